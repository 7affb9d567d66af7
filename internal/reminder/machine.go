package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"medminder/internal/eventbus"
	"medminder/internal/medicine"
	"medminder/internal/notify"
	"medminder/internal/owner"
	logx "medminder/pkg/logx"
)

// Notifier is the slice of notify.Dispatcher the machine needs.
type Notifier interface {
	Fanout(ctx context.Context, o owner.Owner, n notify.Notice) notify.Result
}

// Deps are the machine's collaborators. Bus and Now are optional.
type Deps struct {
	Store     Store
	Medicines medicine.Registry
	Owners    owner.Directory
	Notifier  Notifier
	Bus       eventbus.Bus
	Now       func() time.Time
}

// noticeTimeout bounds the adherence fanout, which runs detached from the
// caller's context.
const noticeTimeout = time.Minute

// Machine applies status transitions and their side effects.
//
// The status change is authoritative: once the store accepted it, failures
// in notification are logged and never undo it.
type Machine struct {
	d   Deps
	log logx.Logger

	mu    sync.RWMutex
	grace time.Duration
}

func NewMachine(d Deps, grace time.Duration, log logx.Logger) *Machine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	return &Machine{d: d, grace: grace, log: log.With(logx.String("comp", "reminder"))}
}

func (m *Machine) SetGrace(d time.Duration) {
	m.mu.Lock()
	m.grace = d
	m.mu.Unlock()
}

func (m *Machine) Grace() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grace
}

// MarkTaken moves a pending event to taken, consuming one dose in the same
// store write, and tells adherence caregivers. Marking an already taken event
// again is a no-op that returns the stored event.
func (m *Machine) MarkTaken(ctx context.Context, id uuid.UUID) (Event, error) {
	var taken Taken
	ev, changed, err := m.markExternal(ctx, id, StatusTaken, func() (Event, error) {
		var err error
		taken, err = m.d.Store.Take(ctx, id, m.d.Now())
		return taken.Event, err
	})
	if err != nil || !changed {
		return ev, err
	}
	if !taken.Consumed {
		m.log.Warn("taken: medicine gone; inventory not updated",
			logx.String("event", ev.ID.String()), logx.String("medicine", ev.MedicineID))
		return ev, nil
	}

	// The caller may hang up now; the notice still goes out.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	m.notifyAdherence(nctx, ev, taken.Remaining)
	return ev, nil
}

func (m *Machine) notifyAdherence(ctx context.Context, ev Event, remaining int) {
	med, err := m.d.Medicines.Get(ctx, ev.MedicineID)
	if err != nil {
		m.log.Warn("taken: medicine lookup failed; adherence notice skipped",
			logx.String("event", ev.ID.String()), logx.String("medicine", ev.MedicineID), logx.Err(err))
		return
	}
	o, err := m.d.Owners.Get(ctx, ev.OwnerID)
	if err != nil {
		m.log.Warn("taken: owner lookup failed; adherence notice skipped",
			logx.String("event", ev.ID.String()), logx.String("owner", ev.OwnerID), logx.Err(err))
		return
	}
	res := m.d.Notifier.Fanout(ctx, o, notify.AdherenceNotice{
		MedicineID:  med.ID,
		Medicine:    med.DisplayName(),
		ScheduledAt: ev.ScheduledAt,
		TakenAt:     ev.TakenAt,
		Remaining:   remaining,
	})
	m.logFanout("adherence", ev, res)
}

// MarkSkipped moves a pending event to skipped. There is no inventory effect.
func (m *Machine) MarkSkipped(ctx context.Context, id uuid.UUID) (Event, error) {
	ev, _, err := m.markExternal(ctx, id, StatusSkipped, func() (Event, error) {
		return m.d.Store.Transition(ctx, id, StatusPending, StatusSkipped, m.d.Now())
	})
	return ev, err
}

// markExternal runs the guarded transition for a user action; commit performs
// the pending to `to` write. changed is false for an idempotent repeat.
func (m *Machine) markExternal(ctx context.Context, id uuid.UUID, to Status, commit func() (Event, error)) (Event, bool, error) {
	ev, err := m.d.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Event{}, false, err
		}
		return Event{}, false, unavailable("load event", err)
	}
	if ev.Status == to {
		return ev, false, nil
	}
	if ev.Status != StatusPending {
		return ev, false, &TransitionError{From: ev.Status, To: to}
	}

	updated, err := commit()
	if errors.Is(err, ErrConflict) {
		// Lost a race (another request or the sweeper). Report against the
		// status that won.
		cur, gerr := m.d.Store.Get(ctx, id)
		if gerr != nil {
			return Event{}, false, unavailable("reload event", gerr)
		}
		if cur.Status == to {
			return cur, false, nil
		}
		return cur, false, &TransitionError{From: cur.Status, To: to}
	}
	if err != nil {
		return Event{}, false, unavailable("transition", err)
	}
	m.publish(updated, ev.Status)
	return updated, true, nil
}

// MissedOutcome is the result of a successful MarkMissed.
type MissedOutcome struct {
	Event  Event
	Notify notify.Result
	// RefErr is set when the medicine or owner could not be loaded. The event
	// is still missed; nobody was notified.
	RefErr error
}

// MarkMissed is used by the sweeper only. It transitions a pending event whose
// scheduled time is more than the grace period before now, then notifies the
// owner and missed-dose caregivers. ErrConflict means the event was no longer
// pending.
func (m *Machine) MarkMissed(ctx context.Context, ev Event, now time.Time) (MissedOutcome, error) {
	if ev.Status != StatusPending {
		return MissedOutcome{Event: ev}, &TransitionError{From: ev.Status, To: StatusMissed}
	}
	if grace := m.Grace(); now.Sub(ev.ScheduledAt) <= grace {
		return MissedOutcome{Event: ev}, fmt.Errorf("%w: event %s is within the %s grace period", ErrInvalidTransition, ev.ID, grace)
	}
	updated, err := m.d.Store.Transition(ctx, ev.ID, StatusPending, StatusMissed, now)
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return MissedOutcome{Event: ev}, err
		}
		return MissedOutcome{Event: ev}, unavailable("transition", err)
	}
	m.publish(updated, StatusPending)
	out := MissedOutcome{Event: updated}

	med, err := m.d.Medicines.Get(ctx, updated.MedicineID)
	if err != nil {
		out.RefErr = unavailable("medicine "+updated.MedicineID, err)
		return out, nil
	}
	o, err := m.d.Owners.Get(ctx, updated.OwnerID)
	if err != nil {
		out.RefErr = unavailable("owner "+updated.OwnerID, err)
		return out, nil
	}
	out.Notify = m.d.Notifier.Fanout(ctx, o, notify.MissedNotice{
		MedicineID:  med.ID,
		Medicine:    med.DisplayName(),
		ScheduledAt: updated.ScheduledAt,
		MissedAt:    updated.MissedAt,
	})
	m.logFanout("missed", updated, out.Notify)
	return out, nil
}

// StatusChange is the eventbus payload for reminder.status_changed.
type StatusChange struct {
	EventID    string    `json:"event_id"`
	MedicineID string    `json:"medicine_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	At         time.Time `json:"at"`
}

func (m *Machine) publish(ev Event, from Status) {
	at := ev.TakenAt
	if ev.Status == StatusMissed {
		at = ev.MissedAt
	}
	if at.IsZero() {
		at = m.d.Now()
	}
	m.d.Bus.Publish(eventbus.Event{
		Type: eventbus.TypeReminderChanged,
		Time: at,
		Data: StatusChange{EventID: ev.ID.String(), MedicineID: ev.MedicineID, From: from, To: ev.Status, At: at},
	})
}

func (m *Machine) logFanout(class string, ev Event, res notify.Result) {
	if res.Err != nil {
		m.log.Warn(class+" notification incomplete",
			logx.String("event", ev.ID.String()),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed),
			logx.Err(res.Err),
		)
		return
	}
	m.log.Debug(class+" notification sent", logx.String("event", ev.ID.String()), logx.Int("sent", res.Sent))
}
