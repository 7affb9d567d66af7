package storage

import (
	"context"
	"time"

	"medminder/internal/medicine"
	"medminder/internal/owner"
	"medminder/internal/reminder"
	"medminder/internal/storage/seed"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config configures storage. An empty Driver means memory.
type Config struct {
	Driver      string
	Path        string        // sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
	// SeedFile is applied on open when set. Existing inventory is kept.
	SeedFile string
}

// Backend is what the engine needs from a storage driver.
type Backend interface {
	medicine.Registry
	medicine.Ledger
	Owners() owner.Directory
	Reminders() reminder.Store
	Seed(ctx context.Context, d seed.Data) error
	Close() error
}
