package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"medminder/internal/reminder"
)

const eventColumns = `id, owner_id, medicine_id, scheduled_at, fired_at, status, taken_at, missed_at, note`

// Reminders exposes the reminder.Store view.
func (s *Store) Reminders() reminder.Store { return reminderStore{s} }

type reminderStore struct{ s *Store }

func scanEvent(sc rowScanner) (reminder.Event, error) {
	var (
		ev                              reminder.Event
		id, status                      string
		scheduled, fired, taken, missed int64
	)
	if err := sc.Scan(&id, &ev.OwnerID, &ev.MedicineID, &scheduled, &fired, &status, &taken, &missed, &ev.Note); err != nil {
		return reminder.Event{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return reminder.Event{}, fmt.Errorf("event id %q: %w", id, err)
	}
	st, err := reminder.ParseStatus(status)
	if err != nil {
		return reminder.Event{}, err
	}
	ev.ID = parsed
	ev.Status = st
	ev.ScheduledAt = fromMillis(scheduled)
	ev.FiredAt = fromMillis(fired)
	ev.TakenAt = fromMillis(taken)
	ev.MissedAt = fromMillis(missed)
	return ev, nil
}

// CreateIfAbsent leans on the (medicine_id, scheduled_at) unique index: the
// insert is a no-op when the slot exists and the stored row is returned.
func (r reminderStore) CreateIfAbsent(ctx context.Context, ev reminder.Event) (reminder.Event, bool, error) {
	s := r.s
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Status == "" {
		ev.Status = reminder.StatusPending
	}
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO reminder_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (medicine_id, scheduled_at) DO NOTHING`),
		ev.ID.String(), ev.OwnerID, ev.MedicineID, toMillis(ev.ScheduledAt), toMillis(ev.FiredAt),
		string(ev.Status), toMillis(ev.TakenAt), toMillis(ev.MissedAt), ev.Note)
	if err != nil {
		return reminder.Event{}, false, fmt.Errorf("create reminder: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return ev, true, nil
	}

	existing, err := scanEvent(s.db.QueryRowContext(ctx, s.q(`SELECT `+eventColumns+` FROM reminder_events WHERE medicine_id = ? AND scheduled_at = ?`),
		ev.MedicineID, toMillis(ev.ScheduledAt)))
	if err != nil {
		return reminder.Event{}, false, fmt.Errorf("load existing reminder: %w", err)
	}
	return existing, false, nil
}

func (r reminderStore) Get(ctx context.Context, id uuid.UUID) (reminder.Event, error) {
	s := r.s
	ev, err := scanEvent(s.db.QueryRowContext(ctx, s.q(`SELECT `+eventColumns+` FROM reminder_events WHERE id = ?`), id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Event{}, reminder.ErrNotFound
	}
	if err != nil {
		return reminder.Event{}, fmt.Errorf("get reminder %s: %w", id, err)
	}
	return ev, nil
}

func (r reminderStore) FindPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]reminder.Event, error) {
	s := r.s
	query := `SELECT ` + eventColumns + ` FROM reminder_events WHERE status = ? AND scheduled_at < ? ORDER BY scheduled_at, id`
	args := []any{string(reminder.StatusPending), toMillis(cutoff)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	defer rows.Close()

	var out []reminder.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Transition is a compare-and-set on status. When nothing matched, a follow-up
// read tells an unknown id apart from a lost race.
func (r reminderStore) Transition(ctx context.Context, id uuid.UUID, from, to reminder.Status, at time.Time) (reminder.Event, error) {
	s := r.s
	set := `status = ?`
	args := []any{string(to)}
	switch to {
	case reminder.StatusTaken:
		set += `, taken_at = ?`
		args = append(args, toMillis(at))
	case reminder.StatusMissed:
		set += `, missed_at = ?`
		args = append(args, toMillis(at))
	}
	args = append(args, id.String(), string(from))

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE reminder_events SET `+set+` WHERE id = ? AND status = ?`), args...)
	if err != nil {
		return reminder.Event{}, fmt.Errorf("transition %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return reminder.Event{}, fmt.Errorf("transition %s: %w", id, err)
	}

	cur, err := r.Get(ctx, id)
	if err != nil {
		return reminder.Event{}, err
	}
	if n == 0 {
		return cur, reminder.ErrConflict
	}
	return cur, nil
}

// Take flips the event and decrements its medicine in one transaction. The
// medicine's own dose_size drives the floored decrement.
func (r reminderStore) Take(ctx context.Context, id uuid.UUID, at time.Time) (reminder.Taken, error) {
	s := r.s
	var out reminder.Taken
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE reminder_events SET status = ?, taken_at = ? WHERE id = ? AND status = ?`),
			string(reminder.StatusTaken), toMillis(at), id.String(), string(reminder.StatusPending))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ev, err := scanEvent(tx.QueryRowContext(ctx, s.q(`SELECT `+eventColumns+` FROM reminder_events WHERE id = ?`), id.String()))
		if errors.Is(err, sql.ErrNoRows) {
			return reminder.ErrNotFound
		}
		if err != nil {
			return err
		}
		out.Event = ev
		if n == 0 {
			return reminder.ErrConflict
		}

		err = tx.QueryRowContext(ctx, s.q(`UPDATE medicines
			SET remaining_doses = CASE WHEN remaining_doses > dose_size THEN remaining_doses - dose_size ELSE 0 END,
			    last_consumed_at = ?
			WHERE id = ?
			RETURNING remaining_doses`), toMillis(at), ev.MedicineID).Scan(&out.Remaining)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return err
		}
		out.Consumed = true
		return nil
	})
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		return reminder.Taken{}, err
	case errors.Is(err, reminder.ErrConflict):
		return reminder.Taken{Event: out.Event}, err
	case err != nil:
		return reminder.Taken{}, fmt.Errorf("take %s: %w", id, err)
	}
	return out, nil
}
