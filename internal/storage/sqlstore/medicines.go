package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medminder/internal/medicine"
)

const medicineColumns = `id, owner_id, name, active, frequency, times, remaining_doses, dose_size, low_stock_threshold, last_consumed_at, last_refilled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedicine(sc rowScanner) (medicine.Medicine, error) {
	var (
		m                  medicine.Medicine
		active             int
		freq, times        string
		consumed, refilled int64
	)
	if err := sc.Scan(&m.ID, &m.OwnerID, &m.Name, &active, &freq, &times, &m.RemainingDoses, &m.DoseSize, &m.LowStockThreshold, &consumed, &refilled); err != nil {
		return medicine.Medicine{}, err
	}
	m.Active = active != 0
	m.Frequency = medicine.Frequency(freq)
	m.Times, m.RejectedTimes = medicine.ParseTimes(medicine.SplitTimes(times))
	m.LastConsumedAt = fromMillis(consumed)
	m.LastRefilledAt = fromMillis(refilled)
	return m, nil
}

// ListActive returns active medicines ordered by id.
func (s *Store) ListActive(ctx context.Context) ([]medicine.Medicine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	defer rows.Close()

	var out []medicine.Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (medicine.Medicine, error) {
	m, err := scanMedicine(s.db.QueryRowContext(ctx, s.q(`SELECT `+medicineColumns+` FROM medicines WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return medicine.Medicine{}, medicine.ErrNotFound
	}
	if err != nil {
		return medicine.Medicine{}, fmt.Errorf("get medicine %s: %w", id, err)
	}
	return m, nil
}

// Consume decrements in one guarded statement, so concurrent calls never
// drive the count below zero.
func (s *Store) Consume(ctx context.Context, id string, doses int, at time.Time) (int, error) {
	if doses <= 0 {
		return 0, medicine.ErrInvalidAmount
	}
	var remaining int
	err := s.db.QueryRowContext(ctx, s.q(`UPDATE medicines
		SET remaining_doses = CASE WHEN remaining_doses > ? THEN remaining_doses - ? ELSE 0 END,
		    last_consumed_at = ?
		WHERE id = ?
		RETURNING remaining_doses`), doses, doses, toMillis(at), id).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, medicine.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("consume %s: %w", id, err)
	}
	return remaining, nil
}

func (s *Store) Refill(ctx context.Context, id string, amount int, at time.Time) (int, error) {
	if amount <= 0 {
		return 0, medicine.ErrInvalidAmount
	}
	var remaining int
	err := s.db.QueryRowContext(ctx, s.q(`UPDATE medicines
		SET remaining_doses = remaining_doses + ?, last_refilled_at = ?
		WHERE id = ?
		RETURNING remaining_doses`), amount, toMillis(at), id).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, medicine.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("refill %s: %w", id, err)
	}
	return remaining, nil
}

// PutMedicine inserts or fully replaces a medicine, inventory included.
func (s *Store) PutMedicine(ctx context.Context, m medicine.Medicine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO medicines (`+medicineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			active = excluded.active,
			frequency = excluded.frequency,
			times = excluded.times,
			remaining_doses = excluded.remaining_doses,
			dose_size = excluded.dose_size,
			low_stock_threshold = excluded.low_stock_threshold,
			last_consumed_at = excluded.last_consumed_at,
			last_refilled_at = excluded.last_refilled_at`),
		medicineArgs(m)...)
	if err != nil {
		return fmt.Errorf("put medicine %s: %w", m.ID, err)
	}
	return nil
}

func medicineArgs(m medicine.Medicine) []any {
	freq := m.Frequency
	if freq == "" {
		freq = medicine.FrequencyDaily
	}
	return []any{
		m.ID, m.OwnerID, m.Name, boolInt(m.Active), string(freq),
		medicine.FormatTimes(m.Times, m.RejectedTimes),
		m.RemainingDoses, m.DoseSize, m.LowStockThreshold,
		toMillis(m.LastConsumedAt), toMillis(m.LastRefilledAt),
	}
}
