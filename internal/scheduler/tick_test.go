package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"medminder/internal/eventbus"
	"medminder/internal/medicine"
	"medminder/internal/notify"
	"medminder/internal/notify/notifytest"
	"medminder/internal/owner"
	"medminder/internal/reminder"
	"medminder/internal/storage/memory"
	logx "medminder/pkg/logx"
)

func at(hh, mm int) time.Time { return time.Date(2025, 3, 1, hh, mm, 0, 0, time.UTC) }

type fixture struct {
	store   *memory.Store
	rec     *notifytest.Recorder
	bus     *eventbus.MemBus
	machine *reminder.Machine
	sweeper *reminder.Sweeper
	loop    *Loop
}

func newFixture(t *testing.T, s Settings) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), rec: notifytest.New(), bus: eventbus.New()}
	f.store.PutOwner(owner.Owner{
		ID: "ana", Email: "ana@example.com", NotifyEmail: true,
		Caregivers: []owner.Caregiver{
			{Address: "bo@example.com", NotifyOnMissed: true},
			{Address: "cy@example.com", NotifyOnAdherence: true},
		},
	})
	f.store.PutMedicine(medicine.Medicine{
		ID: "m", OwnerID: "ana", Name: "Aspirin", Active: true,
		Times:          []medicine.TimeOfDay{medicine.MustTimeOfDay("08:00")},
		RemainingDoses: 5, DoseSize: 1, LowStockThreshold: 1,
	})

	d := notify.NewDispatcher(f.rec, notify.Settings{RatePerSec: 1000, RetryMax: 1, RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond})
	f.machine = reminder.NewMachine(reminder.Deps{
		Store:     f.store.Reminders(),
		Medicines: f.store,
		Owners:    f.store.Owners(),
		Notifier:  d,
	}, 30*time.Minute, logx.Nop())
	f.sweeper = reminder.NewSweeper(f.store.Reminders(), f.machine, 100, logx.Nop())
	if s.Location == nil {
		s.Location = time.UTC
	}
	f.loop = NewLoop(Deps{
		Medicines: f.store,
		Reminders: f.store.Reminders(),
		Owners:    f.store.Owners(),
		Notifier:  d,
		Sweeper:   f.sweeper,
		Bus:       f.bus,
	}, s, logx.Nop())
	return f
}

func TestTickCreatesOnceAndNotifiesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{})
	ctx := context.Background()

	rep := f.loop.Tick(ctx, at(8, 0))
	if rep.Matched != 1 || rep.Created != 1 || rep.Notified != 1 {
		t.Fatalf("first tick=%+v", rep)
	}
	rep = f.loop.Tick(ctx, at(8, 0).Add(30*time.Second))
	if rep.Matched != 1 || rep.Created != 0 || rep.Duplicates != 1 || rep.Notified != 0 {
		t.Fatalf("re-tick=%+v", rep)
	}

	events := f.store.Events()
	if len(events) != 1 || events[0].Status != reminder.StatusPending || !events[0].ScheduledAt.Equal(at(8, 0)) {
		t.Fatalf("events=%+v", events)
	}
	if msgs := f.rec.Messages(); len(msgs) != 1 || msgs[0].To != "ana@example.com" {
		t.Fatalf("messages=%+v", msgs)
	}
}

func TestTickCaregiverReminders(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{CaregiverReminders: true})
	rep := f.loop.Tick(context.Background(), at(8, 0))
	if rep.Notified != 2 || len(f.rec.To("cy@example.com")) != 1 || len(f.rec.To("bo@example.com")) != 0 {
		t.Fatalf("rep=%+v messages=%+v", rep, f.rec.Messages())
	}
}

// faultyStore fails or panics for chosen medicines.
type faultyStore struct {
	reminder.Store
	fail, panics string
}

func (s faultyStore) CreateIfAbsent(ctx context.Context, ev reminder.Event) (reminder.Event, bool, error) {
	switch ev.MedicineID {
	case s.fail:
		return reminder.Event{}, false, errors.New("disk full")
	case s.panics:
		panic("corrupt row")
	}
	return s.Store.CreateIfAbsent(ctx, ev)
}

func TestTickIsolatesPerMedicineFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{Workers: 2})
	for _, id := range []string{"bad", "boom", "ok1", "ok2"} {
		f.store.PutMedicine(medicine.Medicine{ID: id, OwnerID: "ana", Active: true, DoseSize: 1, RemainingDoses: 9,
			Times: []medicine.TimeOfDay{medicine.MustTimeOfDay("08:00")}})
	}
	f.loop.d.Reminders = faultyStore{Store: f.store.Reminders(), fail: "bad", panics: "boom"}

	rep := f.loop.Tick(context.Background(), at(8, 0))
	if rep.Matched != 5 || rep.Created != 3 || rep.Failed != 2 {
		t.Fatalf("rep=%+v", rep)
	}
	if n := len(f.store.Events()); n != 3 {
		t.Fatalf("events=%d want 3", n)
	}
}

func TestTickReportsMalformedTimes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{})
	times, rejected := medicine.ParseTimes([]string{"25:99", "08:00"})
	f.store.PutMedicine(medicine.Medicine{ID: "odd", OwnerID: "ana", Active: true, DoseSize: 1, Times: times, RejectedTimes: rejected})

	rep := f.loop.Tick(context.Background(), at(8, 0))
	if rep.Malformed != 1 || rep.Created != 2 {
		t.Fatalf("rep=%+v", rep)
	}
}

type countingSweeper struct{ calls atomic.Int32 }

func (c *countingSweeper) Sweep(context.Context, time.Time) (reminder.SweepReport, error) {
	c.calls.Add(1)
	return reminder.SweepReport{}, nil
}

func TestTickSubtaskCadence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		now          time.Time
		wantSweep    bool
		wantLowStock bool
	}{
		{at(8, 7), false, false},
		{at(8, 15), true, false},
		{at(8, 45), true, false},
		{at(9, 0), true, true},
		{at(0, 0), true, true},
	}
	for _, tt := range tests {
		f := newFixture(t, Settings{SweepEvery: 15 * time.Minute, LowStockEvery: time.Hour})
		sw := &countingSweeper{}
		f.loop.d.Sweeper = sw

		rep := f.loop.Tick(context.Background(), tt.now)
		if got := sw.calls.Load() == 1; got != tt.wantSweep || (rep.Sweep != nil) != tt.wantSweep {
			t.Fatalf("%s: sweep ran=%v report=%v want %v", tt.now.Format("15:04"), got, rep.Sweep, tt.wantSweep)
		}
		if (rep.LowStock != nil) != tt.wantLowStock {
			t.Fatalf("%s: low stock=%v want %v", tt.now.Format("15:04"), rep.LowStock, tt.wantLowStock)
		}
	}
}

func TestTickSweepFailureDoesNotStopMatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{SweepEvery: time.Hour})
	f.loop.d.Sweeper = panicSweeper{}

	rep := f.loop.Tick(context.Background(), at(8, 0))
	if rep.Created != 1 || rep.SweepError == "" {
		t.Fatalf("rep=%+v", rep)
	}
}

type panicSweeper struct{}

func (panicSweeper) Sweep(context.Context, time.Time) (reminder.SweepReport, error) {
	panic("sweeper bug")
}

func TestLowStockScanNotifies(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{LowStockEvery: time.Hour})
	f.store.PutMedicine(medicine.Medicine{ID: "low", OwnerID: "ana", Active: true, DoseSize: 1, RemainingDoses: 1, LowStockThreshold: 3})
	f.store.PutMedicine(medicine.Medicine{ID: "orphan", OwnerID: "ghost", Active: true, DoseSize: 1, RemainingDoses: 0})

	rep := f.loop.Tick(context.Background(), at(10, 0))
	ls := rep.LowStock
	if ls == nil || ls.Scanned != 3 || ls.Low != 2 || ls.Sent != 2 || ls.Failed != 1 {
		t.Fatalf("low stock=%+v", ls)
	}
	if len(f.rec.To("ana@example.com")) != 1 || len(f.rec.To("bo@example.com")) != 1 || len(f.rec.To("cy@example.com")) != 0 {
		t.Fatalf("messages=%+v", f.rec.Messages())
	}
}

// Ticks at 08:00 and 08:36: the first creates the pending event, the second
// sweeps it to missed and it can no longer be taken.
func TestTicksDriveDoseToMissed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{SweepEvery: time.Minute})
	ctx := context.Background()

	if rep := f.loop.Tick(ctx, at(8, 0)); rep.Created != 1 {
		t.Fatalf("08:00 tick=%+v", rep)
	}
	if rep := f.loop.Tick(ctx, at(8, 30)); rep.Sweep == nil || rep.Sweep.Missed != 0 {
		t.Fatalf("08:30 tick=%+v", rep)
	}
	rep := f.loop.Tick(ctx, at(8, 36))
	if rep.Sweep == nil || rep.Sweep.Missed != 1 {
		t.Fatalf("08:36 tick=%+v", rep)
	}

	ev := f.store.Events()[0]
	if ev.Status != reminder.StatusMissed || !ev.MissedAt.Equal(at(8, 36)) {
		t.Fatalf("event=%+v", ev)
	}
	if _, err := f.machine.MarkTaken(ctx, ev.ID); !errors.Is(err, reminder.ErrInvalidTransition) {
		t.Fatalf("MarkTaken after missed err=%v", err)
	}
}

func TestHaltedTickSkipsUnstartedItems(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{})
	halt := make(chan struct{})
	close(halt)

	rep := f.loop.run(context.Background(), halt, at(8, 0))
	if rep.Matched != 1 || rep.Halted != 1 || rep.Created != 0 {
		t.Fatalf("rep=%+v", rep)
	}
}

func TestTickPublishesReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Settings{})
	ch, unsub := f.bus.Subscribe(1)
	defer unsub()

	f.loop.Tick(context.Background(), at(8, 0))
	select {
	case e := <-ch:
		rep, ok := e.Data.(TickReport)
		if e.Type != eventbus.TypeSchedulerTick || !ok || rep.Created != 1 {
			t.Fatalf("event=%+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("no tick event")
	}
}

func TestCadenceDue(t *testing.T) {
	t.Parallel()
	if cadenceDue(at(8, 0), 0) {
		t.Fatalf("zero cadence must never fire")
	}
	if !cadenceDue(at(8, 30), 30*time.Minute) || cadenceDue(at(8, 31), 30*time.Minute) {
		t.Fatalf("30m cadence")
	}
	if !cadenceDue(at(8, 31), time.Minute) {
		t.Fatalf("1m cadence fires every minute")
	}
}
