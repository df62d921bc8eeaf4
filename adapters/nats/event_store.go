package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/es"
)

const (
	defaultSubjectPrefix  = "uow.es"
	defaultStreamName     = "UOW_ES"
	defaultSnapshotBucket = "uow_snapshots"

	headerEventType     = "x-event-type"
	headerAggregateType = "x-aggregate-type"
	headerAggregateID   = "x-aggregate-id"
)

type EventStoreConfig struct {
	Connect        Connector         // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log            *slog.Logger      // Log for diagnostics (optional)
	Registry       *es.EventRegistry // Registry decodes stored events (required)
	SubjectPrefix  string            // SubjectPrefix of the stream subjects, events go to <prefix>.<type>.<id>
	StreamName     string
	SnapshotBucket string // SnapshotBucket is the KV bucket holding the latest snapshot per aggregate
	Storage        jetstream.StorageType
	RenameType     func(string) string
	// ReadTimeout bounds the wait for each message while reading a stream.
	ReadTimeout time.Duration
}

// EventStore keeps one subject per aggregate in a JetStream stream. Snapshot events live
// in a KV bucket next to it.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	snapshots     *KvStore[es.Envelope]
	registry      *es.EventRegistry
	log           *slog.Logger
	subjectPrefix string
	streamName    string
	renameType    func(string) string
	readTimeout   time.Duration
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: event registry is required", domain.ErrInvalidArgument)
	}
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	bucket := cfg.SnapshotBucket
	if bucket == "" {
		bucket = defaultSnapshotBucket
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 2 * time.Second
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	stream, streamInfo, err := ensureStream(ctx, js, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   cfg.Storage,
		FirstSeq:  1,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}
	log.Debug("ensured stream", slog.Uint64("messages", streamInfo.State.Msgs))

	snapshots, err := openKvStore[es.Envelope](ctx, js, KvConfig{Bucket: bucket})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		stream:        stream,
		snapshots:     snapshots,
		registry:      cfg.Registry,
		log:           log,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
		renameType:    cfg.RenameType,
		readTimeout:   readTimeout,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) AppendEvents(ctx context.Context, aggType string, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	if aggType == "" {
		return fmt.Errorf("%w: aggregate type is empty", domain.ErrInvalidArgument)
	}
	id := events[0].AggregateID()
	subject := e.subjectForAggregate(aggType, id)

	last, streamSeq, err := e.lastForSubject(ctx, subject)
	if err != nil {
		return err
	}
	if err = es.ValidateAppend(last, events); err != nil {
		return err
	}

	for _, ev := range events {
		env, err := e.registry.Encode(aggType, ev)
		if err != nil {
			return err
		}
		msg := natsgo.NewMsg(subject)
		msg.Header.Set(headerEventType, env.Type)
		msg.Header.Set(headerAggregateType, aggType)
		msg.Header.Set(headerAggregateID, env.AggregateID)
		if msg.Data, err = json.Marshal(env); err != nil {
			return err
		}

		ack, err := e.js.PublishMsg(
			ctx,
			msg,
			jetstream.WithMsgID(env.ID),
			jetstream.WithExpectLastSequencePerSubject(streamSeq),
		)
		if err != nil {
			if isWrongLastSequence(err) {
				return fmt.Errorf("%w: %s was appended to concurrently: %w", es.ErrConcurrencyConflict, subject, err)
			}
			return fmt.Errorf("append to %s: %w", subject, err)
		}
		if ack.Duplicate {
			return fmt.Errorf("%w: event %s is already stored", es.ErrConcurrencyConflict, env.ID)
		}
		streamSeq = ack.Sequence
	}

	e.log.Debug(
		"appended",
		slog.Group("agg", slog.String("type", aggType), id.SlogAttr()),
		slog.Int("num_events", len(events)),
		slog.Uint64("stream_seq", streamSeq),
	)
	return nil
}

func (e *EventStore) ReadEvents(ctx context.Context, aggType string, id domain.AggregateID) (domain.EventStream, error) {
	if aggType == "" || id.IsZero() {
		return nil, fmt.Errorf("%w: aggregate type and id are required", domain.ErrInvalidArgument)
	}
	startAt := time.Now()
	subject := e.subjectForAggregate(aggType, id)

	snapshot, err := e.latestSnapshot(ctx, aggType, id)
	if err != nil {
		return nil, err
	}
	last, _, err := e.lastForSubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	if snapshot == nil && !last.Valid() {
		return nil, fmt.Errorf("%w: %s/%s", es.ErrAggregateNotFound, aggType, id)
	}

	var events []*domain.Event
	after := domain.NoSequenceNumber
	if snapshot != nil {
		events = append(events, snapshot)
		after = snapshot.SequenceNumber()
	}
	if last > after {
		tail, err := e.consumeEvents(ctx, subject, after, last)
		if err != nil {
			return nil, err
		}
		events = append(events, tail...)
	}

	e.log.Debug(
		"read events",
		slog.Group("agg", slog.String("type", aggType), id.SlogAttr()),
		slog.Int("num_events", len(events)),
		slog.Bool("snapshot", snapshot != nil),
		slog.Duration("duration", time.Since(startAt)),
	)
	return domain.NewEventStream(events...), nil
}

// consumeEvents reads the events of subject in (after, last] with an ordered consumer.
func (e *EventStore) consumeEvents(
	ctx context.Context,
	subject string,
	after, last domain.SequenceNumber,
) (events []*domain.Event, err error) {
	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subject},
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", subject, err)
	}
	mc, err := cc.Messages()
	if err != nil {
		return nil, err
	}
	defer mc.Stop()

	for {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := mc.Next(jetstream.NextMaxWait(e.readTimeout))
		if err != nil {
			return nil, fmt.Errorf("read %s up to %d: %w", subject, last, err)
		}
		ev, err := e.decodeMsg(msg.Data())
		if err != nil {
			return nil, err
		}
		if ev.SequenceNumber() > after {
			events = append(events, ev)
		}
		if ev.SequenceNumber() >= last {
			return events, nil
		}
	}
}

// AppendSnapshotEvent stores snapshot unless a snapshot at least as recent is stored.
func (e *EventStore) AppendSnapshotEvent(ctx context.Context, aggType string, snapshot *domain.Event) error {
	if err := es.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	current, err := e.latestSnapshot(ctx, aggType, snapshot.AggregateID())
	if err != nil {
		return err
	}
	if current != nil && current.SequenceNumber() >= snapshot.SequenceNumber() {
		return nil
	}
	env, err := e.registry.Encode(aggType, snapshot)
	if err != nil {
		return err
	}
	return e.snapshots.Set(ctx, e.snapshotKey(aggType, snapshot.AggregateID()), env)
}

func (e *EventStore) latestSnapshot(ctx context.Context, aggType string, id domain.AggregateID) (*domain.Event, error) {
	env, err := e.snapshots.Get(ctx, e.snapshotKey(aggType, id))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e.registry.Decode(env)
}

// lastForSubject returns the sequence number of the last event of subject and its
// stream sequence, 0 if the subject is empty.
func (e *EventStore) lastForSubject(ctx context.Context, subject string) (domain.SequenceNumber, uint64, error) {
	raw, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return domain.NoSequenceNumber, 0, nil
		}
		return domain.NoSequenceNumber, 0, fmt.Errorf("get last message of %s: %w", subject, err)
	}
	var env es.Envelope
	if err = json.Unmarshal(raw.Data, &env); err != nil {
		return domain.NoSequenceNumber, 0, fmt.Errorf("decode last message of %s: %w", subject, err)
	}
	return env.Seq, raw.Sequence, nil
}

func (e *EventStore) decodeMsg(data []byte) (*domain.Event, error) {
	var env es.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return e.registry.Decode(env)
}

func (e *EventStore) subjectForAggregate(aggType string, id domain.AggregateID) string {
	if e.renameType != nil {
		aggType = e.renameType(aggType)
	}
	return e.subjectPrefix + "." + token(aggType) + "." + token(id.String())
}

func (e *EventStore) snapshotKey(aggType string, id domain.AggregateID) string {
	if e.renameType != nil {
		aggType = e.renameType(aggType)
	}
	return token(aggType) + "." + token(id.String())
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, *jetstream.StreamInfo, error) {
	s, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}
	si, err := s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// token makes s usable as a single subject token and KV key segment.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

var _ es.SnapshotEventStore = (*EventStore)(nil)
