// Package reminder owns the reminder event lifecycle: the store contract, the
// status state machine and the missed-dose sweeper.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
	StatusSkipped Status = "skipped"
	StatusMissed  Status = "missed"
)

func (s Status) Terminal() bool { return s == StatusTaken || s == StatusSkipped || s == StatusMissed }

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTaken, StatusSkipped, StatusMissed:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown reminder status %q", s)
	}
	return st, nil
}

// Event is one reminder for one medicine at one scheduled instant. ScheduledAt
// carries the calendar day, so (MedicineID, ScheduledAt) is unique.
type Event struct {
	ID          uuid.UUID
	OwnerID     string
	MedicineID  string
	ScheduledAt time.Time
	FiredAt     time.Time
	Status      Status
	TakenAt     time.Time
	MissedAt    time.Time
	Note        string
}

// NewPending builds the event the scheduler asks the store to create.
func NewPending(ownerID, medicineID string, scheduledAt, firedAt time.Time) Event {
	return Event{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		MedicineID:  medicineID,
		ScheduledAt: scheduledAt,
		FiredAt:     firedAt,
		Status:      StatusPending,
	}
}

// Store persists reminder events.
//
// CreateIfAbsent must be atomic per (MedicineID, ScheduledAt): when an event
// already exists it is returned with created=false and nothing is written.
//
// Transition is a compare-and-set on status. It returns ErrConflict when the
// stored status is not from, and ErrNotFound for an unknown id. Moving to
// taken stamps TakenAt, moving to missed stamps MissedAt.
//
// Take is the pending to taken transition fused with consuming one dose of the
// event's medicine. Both writes commit together or not at all; the errors are
// those of Transition.
type Store interface {
	CreateIfAbsent(ctx context.Context, ev Event) (Event, bool, error)
	Get(ctx context.Context, id uuid.UUID) (Event, error)
	FindPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Event, error)
	Transition(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (Event, error)
	Take(ctx context.Context, id uuid.UUID, at time.Time) (Taken, error)
}

// Taken is the result of Store.Take.
type Taken struct {
	Event     Event
	Remaining int
	// Consumed is false when the medicine no longer exists. The event is
	// taken regardless.
	Consumed bool
}
