// Command ledger runs a card ledger simulation against the configured event store.
//
// Run with LEDGER_BACKEND=nats against a JetStream server:
//
//	docker run --net=host nats:latest -js
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	promadapter "github.com/codewandler/uow-go/adapters/prometheus"
	"github.com/codewandler/uow-go/core/cache"
	"github.com/codewandler/uow-go/core/command"
	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/es"
	"github.com/codewandler/uow-go/core/lock"
	"github.com/codewandler/uow-go/core/uow"
	"github.com/codewandler/uow-go/internal/ledger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ledger:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	lvl, _ := cfg.slogLevel()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === metrics ===

	promReg := prometheus.NewRegistry()
	m := promadapter.NewAllMetrics(promReg)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
		log.Info("serving metrics", slog.String("addr", cfg.MetricsAddr))
	}

	// === wiring ===

	registry := ledger.NewRegistry()
	be, err := openBackend(cfg, log, registry)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer be.Close()

	balances := ledger.NewBalances()
	be.events.Subscribe(balances)

	factory := uow.NewFactory(uow.WithLog(log), uow.WithMetrics(m.UnitOfWork))
	accounts := es.NewRepository(
		ledger.NewAccount,
		be.store,
		es.WithLog(log),
		es.WithLockManager(lock.NewPessimistic()),
		es.WithCache(cache.NewLRU(cache.LRUOpts{Size: cfg.CacheSize})),
		es.WithSnapshotEvery(cfg.SnapshotEvery),
		es.WithMetrics(m.Repository),
		es.WithEventBus(be.events),
	)
	bus := command.NewSimpleBus(command.Config{
		Log:          log,
		Factory:      factory,
		Interceptors: []command.Interceptor{command.ValidationInterceptor()},
		Metrics:      m.Command,
	})
	(&ledger.Handlers{Accounts: accounts}).Register(bus)

	// === simulation ===

	log.Info("starting", slog.String("backend", cfg.Backend), slog.Int("accounts", cfg.Accounts))
	startAt := time.Now()
	s := &simulation{cfg: cfg, bus: bus, accounts: accounts, factory: factory}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range cfg.Accounts {
		g.Go(func() error { return s.customer(gctx, i) })
	}
	if err = g.Wait(); err != nil {
		return err
	}

	open, spent := balances.Totals()
	log.Info(
		"done",
		slog.Duration("took", time.Since(startAt)),
		slog.Int("charges", int(s.charges.Load())),
		slog.Int("declined", int(s.declined.Load())),
		slog.Int("open_accounts", open),
		slog.Int("outstanding", spent),
	)

	if cfg.MetricsAddr != "" {
		log.Info("waiting for interrupt")
		<-ctx.Done()
	}
	return nil
}

// simulation drives one customer per account through the ledger commands.
type simulation struct {
	cfg      Config
	bus      *command.SimpleBus
	accounts *es.Repository[*ledger.Account]
	factory  uow.Factory

	charges  atomic.Int64
	declined atomic.Int64
}

func (s *simulation) customer(ctx context.Context, n int) error {
	res, err := s.bus.Dispatch(ctx, ledger.OpenAccountCmd{Owner: fmt.Sprintf("customer-%d", n)})
	if err != nil {
		return err
	}
	id := res.(domain.AggregateID)

	numbers := make([]string, 0, s.cfg.CardsPerAcc)
	for c := range s.cfg.CardsPerAcc {
		number := fmt.Sprintf("%d-%d", n, c)
		if _, err = s.bus.Dispatch(ctx, ledger.IssueCardCmd{AccountID: id, Number: number, Limit: 500}); err != nil {
			return err
		}
		numbers = append(numbers, number)
	}

	for range s.cfg.Charges {
		cmd := ledger.ChargeCardCmd{
			AccountID: id,
			Number:    numbers[rand.IntN(len(numbers))],
			Amount:    1 + rand.IntN(120),
		}
		booked, err := s.bus.Dispatch(ctx, cmd)
		if errors.Is(err, domain.ErrPreconditionViolation) {
			// blocked card
			continue
		}
		if err != nil {
			return err
		}
		s.charges.Add(1)
		if !booked.(bool) {
			s.declined.Add(1)
		}
	}

	// even customers settle their cards and leave
	if n%2 != 0 {
		return nil
	}
	spent, err := s.outstanding(ctx, id)
	if err != nil {
		return err
	}
	for number, amount := range spent {
		if _, err = s.bus.Dispatch(ctx, ledger.RepayCardCmd{AccountID: id, Number: number, Amount: amount}); err != nil {
			return err
		}
	}
	_, err = s.bus.Dispatch(ctx, ledger.CloseAccountCmd{AccountID: id, Reason: "settled"})
	return err
}

// outstanding reads the spent amount per card in a unit of work of its own.
func (s *simulation) outstanding(ctx context.Context, id domain.AggregateID) (map[string]int, error) {
	out := map[string]int{}
	err := uow.Run(ctx, s.factory, func(ctx context.Context, _ uow.UnitOfWork) error {
		a, err := s.accounts.Load(ctx, id)
		if err != nil {
			return err
		}
		for number, c := range a.Cards {
			if c.Spent > 0 {
				out[number] = c.Spent
			}
		}
		return nil
	})
	return out, err
}
