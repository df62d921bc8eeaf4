package main

import (
	"fmt"
	"log/slog"

	"github.com/codewandler/uow-go/adapters/nats"
	"github.com/codewandler/uow-go/adapters/sqlite"
	"github.com/codewandler/uow-go/core/es"
	"github.com/codewandler/uow-go/core/eventbus"
)

// backend is the event store the ledger runs on, plus the bus its committed events go to.
type backend struct {
	store  es.EventStore
	events *eventbus.SimpleEventBus
	closer []func() error
}

func (b *backend) Close() {
	for i := len(b.closer) - 1; i >= 0; i-- {
		_ = b.closer[i]()
	}
}

func openBackend(cfg Config, log *slog.Logger, registry *es.EventRegistry) (*backend, error) {
	b := &backend{events: eventbus.New(log)}

	switch cfg.Backend {
	case backendMemory:
		b.store = es.NewInMemoryStore()

	case backendSQLite:
		store, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath, Registry: registry, Log: log})
		if err != nil {
			return nil, err
		}
		b.store = store
		b.closer = append(b.closer, store.Close)

	case backendNATS:
		connect := nats.ReuseConnection(nats.ConnectURL(cfg.NatsURL))
		store, err := nats.NewEventStore(nats.EventStoreConfig{
			Connect:       connect,
			Log:           log,
			Registry:      registry,
			SubjectPrefix: "ledger.es",
			StreamName:    "LEDGER_ES",
		})
		if err != nil {
			return nil, err
		}
		b.store = store
		b.closer = append(b.closer, store.Close)

		remote, err := nats.NewEventBus(nats.EventBusConfig{
			Connect:       connect,
			Log:           log,
			Registry:      registry,
			SubjectPrefix: "ledger.events",
			StreamName:    "LEDGER_EVENTS",
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closer = append(b.closer, remote.Close)
		b.events.Subscribe(eventbus.ListenerFunc(remote.Publish))

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return b, nil
}
