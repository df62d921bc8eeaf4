package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/es"
	"github.com/codewandler/uow-go/core/uow"
)

const (
	defaultBusSubjectPrefix = "uow.events"
	defaultBusStreamName    = "UOW_EVENTS"
)

type EventBusConfig struct {
	Connect       Connector         // If nil, ConnectDefault() is used.
	Log           *slog.Logger      // Log for diagnostics (optional)
	Registry      *es.EventRegistry // Registry encodes and decodes payloads (required)
	SubjectPrefix string            // Events are published to <prefix>.<event type>
	StreamName    string
	Storage       jetstream.StorageType
	MaxAge        time.Duration
}

// EventBus publishes events to a JetStream stream. Units of work flush to it on commit.
type EventBus struct {
	closeNc  closeFunc
	js       jetstream.JetStream
	stream   jetstream.Stream
	registry *es.EventRegistry
	log      *slog.Logger
	prefix   string

	mu   sync.Mutex
	subs []*BusSubscription
}

func NewEventBus(cfg EventBusConfig) (*EventBus, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: event registry is required", domain.ErrInvalidArgument)
	}
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultBusSubjectPrefix
	}
	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultBusStreamName
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()
	stream, _, err := ensureStream(ctx, js, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{prefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   cfg.Storage,
		MaxAge:    cfg.MaxAge,
	})
	if err != nil {
		closeNc()
		return nil, err
	}

	return &EventBus{
		closeNc:  closeNc,
		js:       js,
		stream:   stream,
		registry: cfg.Registry,
		log:      log.With(slog.String("bus", "nats_js"), slog.String("stream", streamName)),
		prefix:   prefix,
	}, nil
}

func (b *EventBus) subject(eventType string) string { return b.prefix + "." + token(eventType) }

func (b *EventBus) Publish(ctx context.Context, ev *domain.Event) error {
	env, err := b.registry.EncodeMessage(ev)
	if err != nil {
		return err
	}
	msg := natsgo.NewMsg(b.subject(env.Type))
	msg.Header.Set(headerEventType, env.Type)
	if !ev.AggregateID().IsZero() {
		msg.Header.Set(headerAggregateID, env.AggregateID)
	}
	if msg.Data, err = json.Marshal(env); err != nil {
		return err
	}
	if _, err = b.js.PublishMsg(ctx, msg, jetstream.WithMsgID(env.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	b.log.Debug("published", slog.String("event_id", env.ID), slog.String("type", env.Type))
	return nil
}

// Handler receives events delivered by a subscription. A failing handler gets the
// event redelivered.
type Handler func(ctx context.Context, ev *domain.Event) error

type SubscribeConfig struct {
	// EventTypes restricts delivery to these types. Empty means every event.
	EventTypes []string
	// Durable names a consumer that survives restarts. Empty creates an ephemeral one.
	Durable string
	// DeliverAll replays the stream from its start instead of only new events.
	DeliverAll bool
}

type BusSubscription struct {
	cc     jetstream.ConsumeContext
	cancel context.CancelFunc
	once   sync.Once
}

func (s *BusSubscription) Stop() {
	s.once.Do(func() {
		s.cc.Stop()
		s.cancel()
	})
}

// Subscribe delivers events to h until ctx ends or the subscription is stopped.
func (b *EventBus) Subscribe(ctx context.Context, cfg SubscribeConfig, h Handler) (*BusSubscription, error) {
	filters := make([]string, 0, len(cfg.EventTypes))
	for _, t := range cfg.EventTypes {
		filters = append(filters, b.subject(t))
	}
	if len(filters) == 0 {
		filters = []string{b.prefix + ".>"}
	}
	consumerCfg := jetstream.ConsumerConfig{
		Durable:           cfg.Durable,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		FilterSubjects:    filters,
		InactiveThreshold: 10 * time.Minute,
	}
	if cfg.DeliverAll {
		consumerCfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	consumer, err := b.stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer filter_subjects=%v: %w", filters, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var env es.Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			b.log.Error("failed to decode envelope", slog.Any("error", err))
			_ = msg.Term()
			return
		}
		ev, err := b.registry.Decode(env)
		if err != nil {
			b.log.Error("failed to decode event", slog.String("type", env.Type), slog.Any("error", err))
			_ = msg.Term()
			return
		}
		if err := h(ctx, ev); err != nil {
			b.log.Warn("handler failed", slog.String("event_id", env.ID), slog.Any("error", err))
			_ = msg.Nak()
			return
		}
		if err := msg.Ack(); err != nil {
			b.log.Error("failed to ack message", slog.Any("error", err))
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &BusSubscription{cc: cc, cancel: cancel}
	context.AfterFunc(ctx, sub.Stop)
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

func (b *EventBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		s.Stop()
	}
	b.js.CleanupPublisher()
	b.closeNc()
	return nil
}

var _ uow.EventBus = (*EventBus)(nil)
