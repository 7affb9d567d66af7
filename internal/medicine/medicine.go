// Package medicine holds the medication registry view and the inventory ledger
// contract used by the reminder engine.
package medicine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("medicine not found")
	ErrInvalidAmount = errors.New("amount must be > 0")
)

type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyCustom Frequency = "custom"
)

// Medicine is the read model the engine works with.
//
// Times are validated at the boundary; RejectedTimes keeps the raw entries that
// failed validation so each tick can report them.
type Medicine struct {
	ID        string
	OwnerID   string
	Name      string
	Active    bool
	Frequency Frequency

	Times         []TimeOfDay
	RejectedTimes []string

	RemainingDoses    int
	DoseSize          int
	LowStockThreshold int

	LastConsumedAt time.Time
	LastRefilledAt time.Time
}

// LowStock reports remaining <= threshold.
func (m Medicine) LowStock() bool { return m.RemainingDoses <= m.LowStockThreshold }

// DisplayName falls back to the id when no name is configured.
func (m Medicine) DisplayName() string {
	if n := strings.TrimSpace(m.Name); n != "" {
		return n
	}
	return m.ID
}

// Validate checks the inventory invariants.
func (m Medicine) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("medicine id required")
	}
	if strings.TrimSpace(m.OwnerID) == "" {
		return fmt.Errorf("medicine %s: owner id required", m.ID)
	}
	if m.DoseSize <= 0 {
		return fmt.Errorf("medicine %s: dose size must be > 0", m.ID)
	}
	if m.RemainingDoses < 0 {
		return fmt.Errorf("medicine %s: remaining doses must be >= 0", m.ID)
	}
	if m.LowStockThreshold < 0 {
		return fmt.Errorf("medicine %s: low stock threshold must be >= 0", m.ID)
	}
	return nil
}

// Registry is the read-only medication source.
type Registry interface {
	ListActive(ctx context.Context) ([]Medicine, error)
	Get(ctx context.Context, id string) (Medicine, error)
}

// Ledger mutates a medicine's remaining-dose count.
//
// Consume decrements by doses, floored at 0, atomically with respect to other
// Consume/Refill calls. It returns the remaining count after the update.
type Ledger interface {
	Consume(ctx context.Context, id string, doses int, at time.Time) (remaining int, err error)
	Refill(ctx context.Context, id string, amount int, at time.Time) (remaining int, err error)
}

// Floor applies a consumption of doses to remaining without going negative.
func Floor(remaining, doses int) int {
	if doses >= remaining {
		return 0
	}
	return remaining - doses
}
