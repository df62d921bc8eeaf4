// Package sqlite provides a SQLite-backed event store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/es"
)

//go:embed schema.sql
var schema string

type Config struct {
	// Path of the database file.
	Path string
	// Registry decodes stored events (required).
	Registry *es.EventRegistry
	Log      *slog.Logger
}

// Store persists event streams and the latest snapshot per aggregate in SQLite.
type Store struct {
	sqlDB    *sql.DB
	registry *es.EventRegistry
	log      *slog.Logger
}

// Open opens the database at cfg.Path and applies the schema.
func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w: storage path is required", domain.ErrInvalidArgument)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: event registry is required", domain.ErrInvalidArgument)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	dsn := filepath.Clean(cfg.Path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; appends read the stream head and insert in one transaction.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{
		sqlDB:    sqlDB,
		registry: cfg.Registry,
		log:      log.With(slog.String("store", "sqlite"), slog.String("path", cfg.Path)),
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) AppendEvents(ctx context.Context, aggType string, events []*domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	if aggType == "" {
		return fmt.Errorf("%w: aggregate type is empty", domain.ErrInvalidArgument)
	}
	id := events[0].AggregateID()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	last := domain.NoSequenceNumber
	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(
		ctx,
		`SELECT MAX(seq) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggType,
		id.String(),
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("read last sequence number: %w", err)
	}
	if maxSeq.Valid {
		last = domain.SequenceNumber(maxSeq.Int64)
	}
	if err = es.ValidateAppend(last, events); err != nil {
		return err
	}

	for _, ev := range events {
		env, err := s.registry.Encode(aggType, ev)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO events (aggregate_type, aggregate_id, seq, event_id, event_type, occurred_at, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			env.AggregateType,
			env.AggregateID,
			env.Seq.Int64(),
			env.ID,
			env.Type,
			env.OccurredAt.UnixNano(),
			[]byte(env.Data),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: %s/%s seq %d: %w", es.ErrConcurrencyConflict, aggType, id, env.Seq, err)
			}
			return fmt.Errorf("insert event %s: %w", env.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %w", es.ErrConcurrencyConflict, err)
		}
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Debug(
		"appended",
		slog.Group("agg", slog.String("type", aggType), id.SlogAttr()),
		slog.Int("num_events", len(events)),
	)
	return nil
}

func (s *Store) ReadEvents(ctx context.Context, aggType string, id domain.AggregateID) (domain.EventStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []*domain.Event
	after := domain.NoSequenceNumber

	snapshot, err := s.latestSnapshot(ctx, aggType, id)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		events = append(events, snapshot)
		after = snapshot.SequenceNumber()
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT seq, event_id, event_type, occurred_at, data
		 FROM events
		 WHERE aggregate_type = ? AND aggregate_id = ? AND seq > ?
		 ORDER BY seq`,
		aggType,
		id.String(),
		after.Int64(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	found := snapshot != nil
	for rows.Next() {
		ev, err := s.scanEvent(rows, aggType, id)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
		found = true
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", es.ErrAggregateNotFound, aggType, id)
	}
	return domain.NewEventStream(events...), nil
}

// AppendSnapshotEvent keeps snapshot if it is newer than the stored one.
func (s *Store) AppendSnapshotEvent(ctx context.Context, aggType string, snapshot *domain.Event) error {
	if err := es.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	env, err := s.registry.Encode(aggType, snapshot)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO snapshots (aggregate_type, aggregate_id, seq, event_id, event_type, occurred_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE SET
		   seq = excluded.seq,
		   event_id = excluded.event_id,
		   event_type = excluded.event_type,
		   occurred_at = excluded.occurred_at,
		   data = excluded.data
		 WHERE excluded.seq > snapshots.seq`,
		env.AggregateType,
		env.AggregateID,
		env.Seq.Int64(),
		env.ID,
		env.Type,
		env.OccurredAt.UnixNano(),
		[]byte(env.Data),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot of %s/%s: %w", aggType, snapshot.AggregateID(), err)
	}
	return nil
}

func (s *Store) latestSnapshot(ctx context.Context, aggType string, id domain.AggregateID) (*domain.Event, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT seq, event_id, event_type, occurred_at, data
		 FROM snapshots
		 WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggType,
		id.String(),
	)
	ev, err := s.scanEvent(row, aggType, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEvent(row scanner, aggType string, id domain.AggregateID) (*domain.Event, error) {
	var (
		seq        int64
		occurredAt int64
		env        = es.Envelope{AggregateType: aggType, AggregateID: id.String()}
		data       []byte
	)
	if err := row.Scan(&seq, &env.ID, &env.Type, &occurredAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	env.Seq = domain.SequenceNumber(seq)
	env.OccurredAt = time.Unix(0, occurredAt).UTC()
	env.Data = data
	return s.registry.Decode(env)
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "constraint failed")
}

var _ es.SnapshotEventStore = (*Store)(nil)
