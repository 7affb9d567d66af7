package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medminder/internal/storage/memory"
	"medminder/internal/storage/seed"
	"medminder/internal/storage/sqlstore"
	logx "medminder/pkg/logx"
)

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*sqlstore.Store)(nil)
)

// NormalizeDriver maps aliases to a driver constant.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory", "mem":
		return DriverMemory, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	default:
		return "", errors.New("unknown storage driver: " + driver)
	}
}

// Open initializes the configured backend and applies the seed file.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	driver, err := NormalizeDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var b Backend
	switch driver {
	case DriverMemory:
		b = memory.New()
	case DriverSQLite:
		b, err = sqlstore.Open(ctx, sqlstore.Config{Dialect: sqlstore.SQLite, Path: cfg.Path, BusyTimeout: cfg.BusyTimeout}, log)
	case DriverPostgres:
		b, err = sqlstore.Open(ctx, sqlstore.Config{Dialect: sqlstore.Postgres, DSN: cfg.DSN}, log)
	}
	if err != nil {
		return nil, err
	}

	if path := strings.TrimSpace(cfg.SeedFile); path != "" {
		d, err := seed.Load(path)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		if err := b.Seed(ctx, d); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("apply seed %s: %w", path, err)
		}
		log.Info("storage seeded",
			logx.String("driver", driver),
			logx.String("file", path),
			logx.Int("owners", len(d.Owners)),
			logx.Int("medicines", len(d.Medicines)),
		)
	}
	return b, nil
}
