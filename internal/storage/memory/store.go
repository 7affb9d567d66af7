// Package memory is the in-process storage driver: maps behind one mutex.
// Every read-modify-write holds the lock, which gives the same atomicity the
// SQL driver gets from its unique index and guarded updates.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"medminder/internal/medicine"
	"medminder/internal/owner"
	"medminder/internal/reminder"
	"medminder/internal/storage/seed"
)

type slot struct {
	medicineID string
	at         int64 // unix ms
}

type Store struct {
	mu        sync.RWMutex
	medicines map[string]medicine.Medicine
	owners    map[string]owner.Owner
	events    map[uuid.UUID]reminder.Event
	bySlot    map[slot]uuid.UUID
}

func New() *Store {
	return &Store{
		medicines: map[string]medicine.Medicine{},
		owners:    map[string]owner.Owner{},
		events:    map[uuid.UUID]reminder.Event{},
		bySlot:    map[slot]uuid.UUID{},
	}
}

func (s *Store) Close() error { return nil }

// Seed inserts owners and medicines. Existing medicines keep their inventory.
func (s *Store) Seed(_ context.Context, d seed.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range d.Owners {
		s.owners[o.ID] = cloneOwner(o)
	}
	for _, m := range d.Medicines {
		if cur, ok := s.medicines[m.ID]; ok {
			m.RemainingDoses = cur.RemainingDoses
			m.LastConsumedAt = cur.LastConsumedAt
			m.LastRefilledAt = cur.LastRefilledAt
		}
		s.medicines[m.ID] = cloneMedicine(m)
	}
	return nil
}

// PutMedicine inserts or replaces a medicine.
func (s *Store) PutMedicine(m medicine.Medicine) {
	s.mu.Lock()
	s.medicines[m.ID] = cloneMedicine(m)
	s.mu.Unlock()
}

// PutOwner inserts or replaces an owner.
func (s *Store) PutOwner(o owner.Owner) {
	s.mu.Lock()
	s.owners[o.ID] = cloneOwner(o)
	s.mu.Unlock()
}

// ---- medicine.Registry ----

func (s *Store) ListActive(_ context.Context) ([]medicine.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]medicine.Medicine, 0, len(s.medicines))
	for _, m := range s.medicines {
		if m.Active {
			out = append(out, cloneMedicine(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Get(_ context.Context, id string) (medicine.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.medicines[id]
	if !ok {
		return medicine.Medicine{}, medicine.ErrNotFound
	}
	return cloneMedicine(m), nil
}

// ---- medicine.Ledger ----

func (s *Store) Consume(_ context.Context, id string, doses int, at time.Time) (int, error) {
	if doses <= 0 {
		return 0, medicine.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medicines[id]
	if !ok {
		return 0, medicine.ErrNotFound
	}
	m.RemainingDoses = medicine.Floor(m.RemainingDoses, doses)
	m.LastConsumedAt = at
	s.medicines[id] = m
	return m.RemainingDoses, nil
}

func (s *Store) Refill(_ context.Context, id string, amount int, at time.Time) (int, error) {
	if amount <= 0 {
		return 0, medicine.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medicines[id]
	if !ok {
		return 0, medicine.ErrNotFound
	}
	m.RemainingDoses += amount
	m.LastRefilledAt = at
	s.medicines[id] = m
	return m.RemainingDoses, nil
}

// ---- owner.Directory ----

// Owners exposes the owner.Directory view; Get is taken by the registry.
func (s *Store) Owners() owner.Directory { return ownerDirectory{s} }

type ownerDirectory struct{ s *Store }

func (d ownerDirectory) Get(_ context.Context, id string) (owner.Owner, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	o, ok := d.s.owners[id]
	if !ok {
		return owner.Owner{}, owner.ErrNotFound
	}
	return cloneOwner(o), nil
}

// ---- reminder.Store ----

// Reminders exposes the reminder.Store view.
func (s *Store) Reminders() reminder.Store { return reminderStore{s} }

type reminderStore struct{ s *Store }

func (r reminderStore) CreateIfAbsent(_ context.Context, ev reminder.Event) (reminder.Event, bool, error) {
	s := r.s
	key := slot{medicineID: ev.MedicineID, at: ev.ScheduledAt.UnixMilli()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySlot[key]; ok {
		return s.events[id], false, nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Status == "" {
		ev.Status = reminder.StatusPending
	}
	s.events[ev.ID] = ev
	s.bySlot[key] = ev.ID
	return ev, true, nil
}

func (r reminderStore) Get(_ context.Context, id uuid.UUID) (reminder.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ev, ok := r.s.events[id]
	if !ok {
		return reminder.Event{}, reminder.ErrNotFound
	}
	return ev, nil
}

func (r reminderStore) FindPendingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]reminder.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []reminder.Event
	for _, ev := range r.s.events {
		if ev.Status == reminder.StatusPending && ev.ScheduledAt.Before(cutoff) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r reminderStore) Transition(_ context.Context, id uuid.UUID, from, to reminder.Status, at time.Time) (reminder.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.events[id]
	if !ok {
		return reminder.Event{}, reminder.ErrNotFound
	}
	if ev.Status != from {
		return ev, reminder.ErrConflict
	}
	ev.Status = to
	switch to {
	case reminder.StatusTaken:
		ev.TakenAt = at
	case reminder.StatusMissed:
		ev.MissedAt = at
	}
	r.s.events[id] = ev
	return ev, nil
}

func (r reminderStore) Take(_ context.Context, id uuid.UUID, at time.Time) (reminder.Taken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.events[id]
	if !ok {
		return reminder.Taken{}, reminder.ErrNotFound
	}
	if ev.Status != reminder.StatusPending {
		return reminder.Taken{Event: ev}, reminder.ErrConflict
	}
	ev.Status = reminder.StatusTaken
	ev.TakenAt = at
	r.s.events[id] = ev

	out := reminder.Taken{Event: ev}
	if m, ok := r.s.medicines[ev.MedicineID]; ok {
		m.RemainingDoses = medicine.Floor(m.RemainingDoses, m.DoseSize)
		m.LastConsumedAt = at
		r.s.medicines[m.ID] = m
		out.Remaining, out.Consumed = m.RemainingDoses, true
	}
	return out, nil
}

// Events returns every stored event ordered by scheduled time. For tests and
// diagnostics.
func (s *Store) Events() []reminder.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]reminder.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func cloneMedicine(m medicine.Medicine) medicine.Medicine {
	m.Times = slices.Clone(m.Times)
	m.RejectedTimes = slices.Clone(m.RejectedTimes)
	return m
}

func cloneOwner(o owner.Owner) owner.Owner {
	o.Caregivers = slices.Clone(o.Caregivers)
	return o
}
