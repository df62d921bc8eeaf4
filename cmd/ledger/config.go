package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/codewandler/uow-go/core/domain"
)

const (
	backendMemory = "memory"
	backendSQLite = "sqlite"
	backendNATS   = "nats"
)

type Config struct {
	Backend       string `env:"LEDGER_BACKEND" envDefault:"memory"`
	SQLitePath    string `env:"LEDGER_SQLITE_PATH" envDefault:"ledger.db"`
	NatsURL       string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	LogLevel      string `env:"LEDGER_LOG_LEVEL" envDefault:"info"`
	MetricsAddr   string `env:"LEDGER_METRICS_ADDR"`
	Accounts      int    `env:"LEDGER_ACCOUNTS" envDefault:"10"`
	CardsPerAcc   int    `env:"LEDGER_CARDS" envDefault:"2"`
	Charges       int    `env:"LEDGER_CHARGES" envDefault:"20"`
	SnapshotEvery int    `env:"LEDGER_SNAPSHOT_EVERY" envDefault:"10"`
	CacheSize     int    `env:"LEDGER_CACHE_SIZE" envDefault:"1000"`
}

// loadConfig parses cfg from environ, or from the process environment when environ is nil.
func loadConfig(environ map[string]string) (cfg Config, err error) {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err = env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Backend {
	case backendMemory, backendSQLite, backendNATS:
	default:
		return fmt.Errorf("%w: unknown backend %q", domain.ErrInvalidArgument, c.Backend)
	}
	if _, err := c.slogLevel(); err != nil {
		return err
	}
	if c.Accounts <= 0 || c.CardsPerAcc <= 0 || c.Charges < 0 {
		return fmt.Errorf("%w: accounts and cards must be positive", domain.ErrInvalidArgument)
	}
	return nil
}

func (c Config) slogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return lvl, fmt.Errorf("%w: log level: %w", domain.ErrInvalidArgument, err)
	}
	return lvl, nil
}
