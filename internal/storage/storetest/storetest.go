// Package storetest is a behavioural suite every storage driver must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medminder/internal/medicine"
	"medminder/internal/owner"
	"medminder/internal/reminder"
	"medminder/internal/storage/seed"
)

// Backend mirrors storage.Backend; storage imports the drivers, so the suite
// cannot import it back.
type Backend interface {
	medicine.Registry
	medicine.Ledger
	Owners() owner.Directory
	Reminders() reminder.Store
	Seed(ctx context.Context, d seed.Data) error
	Close() error
}

// Fixture returns the owners and medicines every case starts from.
func Fixture() seed.Data {
	return seed.Data{
		Owners: []owner.Owner{{
			ID:          "ana",
			Name:        "Ana",
			Email:       "ana@example.com",
			NotifyEmail: true,
			NotifyPush:  true,
			PushAddress: "tg:1001",
			Caregivers: []owner.Caregiver{
				{Name: "Bo", Address: "bo@example.com", NotifyOnMissed: true},
				{Name: "Cy", Address: "tg:2002", NotifyOnAdherence: true},
			},
		}},
		Medicines: []medicine.Medicine{
			{
				ID: "aspirin", OwnerID: "ana", Name: "Aspirin", Active: true, Frequency: medicine.FrequencyDaily,
				Times:          []medicine.TimeOfDay{medicine.MustTimeOfDay("08:00"), medicine.MustTimeOfDay("20:00")},
				RejectedTimes:  []string{"25:00"},
				RemainingDoses: 10, DoseSize: 1, LowStockThreshold: 3,
			},
			{
				ID: "zinc", OwnerID: "ana", Active: false, Frequency: medicine.FrequencyWeekly,
				Times:          []medicine.TimeOfDay{medicine.MustTimeOfDay("09:00")},
				RemainingDoses: 2, DoseSize: 2,
			},
		},
	}
}

// Run executes the suite; open must return an empty backend.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Helper()

	setup := func(t *testing.T) Backend {
		t.Helper()
		b := open(t)
		t.Cleanup(func() { _ = b.Close() })
		if err := b.Seed(context.Background(), Fixture()); err != nil {
			t.Fatalf("seed: %v", err)
		}
		return b
	}

	t.Run("registry", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()

		active, err := b.ListActive(ctx)
		if err != nil {
			t.Fatalf("ListActive: %v", err)
		}
		if len(active) != 1 || active[0].ID != "aspirin" {
			t.Fatalf("active=%+v", active)
		}
		m := active[0]
		if len(m.Times) != 2 || m.Times[0].String() != "08:00" || m.Times[1].String() != "20:00" {
			t.Fatalf("times=%v", m.Times)
		}
		if len(m.RejectedTimes) != 1 || m.RejectedTimes[0] != "25:00" {
			t.Fatalf("rejected=%v", m.RejectedTimes)
		}

		z, err := b.Get(ctx, "zinc")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if z.Active || z.DoseSize != 2 || z.Frequency != medicine.FrequencyWeekly {
			t.Fatalf("zinc=%+v", z)
		}
		if _, err := b.Get(ctx, "nope"); !errors.Is(err, medicine.ErrNotFound) {
			t.Fatalf("Get unknown err=%v", err)
		}
	})

	t.Run("owners", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()

		o, err := b.Owners().Get(ctx, "ana")
		if err != nil {
			t.Fatalf("owner Get: %v", err)
		}
		if o.Email != "ana@example.com" || !o.NotifyEmail || !o.NotifyPush || o.PushAddress != "tg:1001" {
			t.Fatalf("owner=%+v", o)
		}
		if len(o.Caregivers) != 2 || o.Caregivers[0].Address != "bo@example.com" || !o.Caregivers[0].NotifyOnMissed || !o.Caregivers[1].NotifyOnAdherence {
			t.Fatalf("caregivers=%+v", o.Caregivers)
		}
		if _, err := b.Owners().Get(ctx, "ghost"); !errors.Is(err, owner.ErrNotFound) {
			t.Fatalf("unknown owner err=%v", err)
		}
	})

	t.Run("ledger floors at zero", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		at := time.Date(2025, 3, 1, 8, 5, 0, 0, time.UTC)

		left, err := b.Consume(ctx, "zinc", 2, at)
		if err != nil || left != 0 {
			t.Fatalf("Consume: left=%d err=%v", left, err)
		}
		left, err = b.Consume(ctx, "zinc", 2, at)
		if err != nil || left != 0 {
			t.Fatalf("Consume at zero: left=%d err=%v", left, err)
		}
		left, err = b.Refill(ctx, "zinc", 5, at)
		if err != nil || left != 5 {
			t.Fatalf("Refill: left=%d err=%v", left, err)
		}
		m, _ := b.Get(ctx, "zinc")
		if !m.LastConsumedAt.Equal(at) || !m.LastRefilledAt.Equal(at) {
			t.Fatalf("stamps consumed=%v refilled=%v", m.LastConsumedAt, m.LastRefilledAt)
		}

		if _, err := b.Consume(ctx, "nope", 1, at); !errors.Is(err, medicine.ErrNotFound) {
			t.Fatalf("Consume unknown err=%v", err)
		}
		if _, err := b.Refill(ctx, "zinc", 0, at); !errors.Is(err, medicine.ErrInvalidAmount) {
			t.Fatalf("Refill 0 err=%v", err)
		}
	})

	t.Run("concurrent consume never goes negative", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		at := time.Date(2025, 3, 1, 8, 5, 0, 0, time.UTC)

		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = b.Consume(ctx, "aspirin", 1, at)
			}()
		}
		wg.Wait()
		m, err := b.Get(ctx, "aspirin")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if m.RemainingDoses != 0 {
			t.Fatalf("remaining=%d want 0", m.RemainingDoses)
		}
	})

	t.Run("reseed keeps inventory", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		if _, err := b.Consume(ctx, "aspirin", 4, time.Now()); err != nil {
			t.Fatalf("Consume: %v", err)
		}
		fx := Fixture()
		fx.Medicines[0].Name = "Aspirin 100mg"
		if err := b.Seed(ctx, fx); err != nil {
			t.Fatalf("reseed: %v", err)
		}
		m, _ := b.Get(ctx, "aspirin")
		if m.RemainingDoses != 6 || m.Name != "Aspirin 100mg" {
			t.Fatalf("after reseed=%+v", m)
		}
	})

	t.Run("create if absent", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		rs := b.Reminders()
		slot := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

		first, created, err := rs.CreateIfAbsent(ctx, reminder.NewPending("ana", "aspirin", slot, slot))
		if err != nil || !created {
			t.Fatalf("first create: created=%v err=%v", created, err)
		}
		again, created, err := rs.CreateIfAbsent(ctx, reminder.NewPending("ana", "aspirin", slot, slot.Add(time.Second)))
		if err != nil || created {
			t.Fatalf("second create: created=%v err=%v", created, err)
		}
		if again.ID != first.ID {
			t.Fatalf("second create returned %s want %s", again.ID, first.ID)
		}

		next := slot.Add(24 * time.Hour)
		if _, created, _ := rs.CreateIfAbsent(ctx, reminder.NewPending("ana", "aspirin", next, next)); !created {
			t.Fatalf("next day slot must be distinct")
		}

		got, err := rs.Get(ctx, first.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != reminder.StatusPending || !got.ScheduledAt.Equal(slot) {
			t.Fatalf("got=%+v", got)
		}
	})

	t.Run("concurrent create yields one event", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		rs := b.Reminders()
		slot := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

		var (
			wg sync.WaitGroup
			mu sync.Mutex
			n  int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, created, err := rs.CreateIfAbsent(ctx, reminder.NewPending("ana", "aspirin", slot, slot))
				if err == nil && created {
					mu.Lock()
					n++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if n != 1 {
			t.Fatalf("created %d events want 1", n)
		}
	})

	t.Run("transition guards status", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		rs := b.Reminders()
		slot := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
		ev, _, err := rs.CreateIfAbsent(ctx, reminder.NewPending("ana", "aspirin", slot, slot))
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		takenAt := slot.Add(5 * time.Minute)
		got, err := rs.Transition(ctx, ev.ID, reminder.StatusPending, reminder.StatusTaken, takenAt)
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}
		if got.Status != reminder.StatusTaken || !got.TakenAt.Equal(takenAt) || !got.MissedAt.IsZero() {
			t.Fatalf("after taken=%+v", got)
		}

		got, err = rs.Transition(ctx, ev.ID, reminder.StatusPending, reminder.StatusMissed, takenAt)
		if !errors.Is(err, reminder.ErrConflict) {
			t.Fatalf("stale transition err=%v", err)
		}
		if got.Status != reminder.StatusTaken {
			t.Fatalf("conflict must return current state, got %s", got.Status)
		}

		other := reminder.NewPending("ana", "aspirin", slot, slot)
		if _, err := rs.Transition(ctx, other.ID, reminder.StatusPending, reminder.StatusMissed, takenAt); !errors.Is(err, reminder.ErrNotFound) {
			t.Fatalf("unknown id err=%v", err)
		}
		if _, err := rs.Get(ctx, other.ID); !errors.Is(err, reminder.ErrNotFound) {
			t.Fatalf("Get unknown err=%v", err)
		}
	})

	t.Run("take consumes with the transition", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		rs := b.Reminders()
		slot := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		takenAt := slot.Add(3 * time.Minute)

		ev, _, err := rs.CreateIfAbsent(ctx, reminder.NewPending("ana", "zinc", slot, slot))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := rs.Take(ctx, ev.ID, takenAt)
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		if got.Event.Status != reminder.StatusTaken || !got.Event.TakenAt.Equal(takenAt) || !got.Consumed || got.Remaining != 0 {
			t.Fatalf("take=%+v", got)
		}
		m, _ := b.Get(ctx, "zinc")
		if m.RemainingDoses != 0 || !m.LastConsumedAt.Equal(takenAt) {
			t.Fatalf("zinc=%+v", m)
		}

		again, err := rs.Take(ctx, ev.ID, takenAt.Add(time.Minute))
		if !errors.Is(err, reminder.ErrConflict) || again.Event.Status != reminder.StatusTaken {
			t.Fatalf("second Take: %+v err=%v", again, err)
		}
		if _, err := b.Refill(ctx, "zinc", 4, takenAt); err != nil {
			t.Fatalf("Refill: %v", err)
		}
		if _, err := rs.Take(ctx, ev.ID, takenAt); !errors.Is(err, reminder.ErrConflict) {
			t.Fatalf("third Take err=%v", err)
		}
		if m, _ := b.Get(ctx, "zinc"); m.RemainingDoses != 4 {
			t.Fatalf("conflicting Take consumed, remaining=%d", m.RemainingDoses)
		}

		if _, err := rs.Take(ctx, reminder.NewPending("ana", "zinc", slot, slot).ID, takenAt); !errors.Is(err, reminder.ErrNotFound) {
			t.Fatalf("unknown id err=%v", err)
		}
	})

	t.Run("concurrent take consumes once", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		rs := b.Reminders()
		slot := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
		ev, _, err := rs.CreateIfAbsent(ctx, reminder.NewPending("ana", "aspirin", slot, slot))
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = rs.Take(ctx, ev.ID, slot)
			}()
		}
		wg.Wait()
		if m, _ := b.Get(ctx, "aspirin"); m.RemainingDoses != 9 {
			t.Fatalf("remaining=%d want 9", m.RemainingDoses)
		}
	})

	t.Run("find pending older than", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		rs := b.Reminders()
		base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

		var evs []reminder.Event
		for i, h := range []int{0, 1, 2, 3} {
			at := base.Add(time.Duration(h) * time.Hour)
			ev, _, err := rs.CreateIfAbsent(ctx, reminder.NewPending("ana", "aspirin", at, at))
			if err != nil {
				t.Fatalf("create %d: %v", i, err)
			}
			evs = append(evs, ev)
		}
		if _, err := rs.Transition(ctx, evs[1].ID, reminder.StatusPending, reminder.StatusSkipped, base); err != nil {
			t.Fatalf("skip: %v", err)
		}

		cutoff := base.Add(3 * time.Hour) // excludes the 11:00 event itself
		got, err := rs.FindPendingOlderThan(ctx, cutoff, 0)
		if err != nil {
			t.Fatalf("FindPendingOlderThan: %v", err)
		}
		if len(got) != 2 || got[0].ID != evs[0].ID || got[1].ID != evs[2].ID {
			t.Fatalf("pending=%v", got)
		}

		got, err = rs.FindPendingOlderThan(ctx, cutoff, 1)
		if err != nil || len(got) != 1 || got[0].ID != evs[0].ID {
			t.Fatalf("limited pending=%v err=%v", got, err)
		}
	})
}
