package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"medminder/internal/owner"
)

// Owners exposes the owner.Directory view; Get is taken by the registry.
func (s *Store) Owners() owner.Directory { return ownerDirectory{s} }

type ownerDirectory struct{ s *Store }

func (d ownerDirectory) Get(ctx context.Context, id string) (owner.Owner, error) {
	s := d.s
	var (
		o                       owner.Owner
		notifyEmail, notifyPush int
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, email, notify_email, notify_push, push_address FROM owners WHERE id = ?`), id).
		Scan(&o.ID, &o.Name, &o.Email, &notifyEmail, &notifyPush, &o.PushAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return owner.Owner{}, owner.ErrNotFound
	}
	if err != nil {
		return owner.Owner{}, fmt.Errorf("get owner %s: %w", id, err)
	}
	o.NotifyEmail = notifyEmail != 0
	o.NotifyPush = notifyPush != 0

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT name, address, notify_on_missed, notify_on_adherence FROM caregivers WHERE owner_id = ? ORDER BY position`), id)
	if err != nil {
		return owner.Owner{}, fmt.Errorf("list caregivers %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c                 owner.Caregiver
			missed, adherence int
		)
		if err := rows.Scan(&c.Name, &c.Address, &missed, &adherence); err != nil {
			return owner.Owner{}, fmt.Errorf("scan caregiver: %w", err)
		}
		c.NotifyOnMissed = missed != 0
		c.NotifyOnAdherence = adherence != 0
		o.Caregivers = append(o.Caregivers, c)
	}
	return o, rows.Err()
}

// PutOwner inserts or replaces an owner and its caregiver list.
func (s *Store) PutOwner(ctx context.Context, o owner.Owner) error {
	return s.inTx(ctx, func(tx *sql.Tx) error { return s.putOwnerTx(ctx, tx, o) })
}

func (s *Store) putOwnerTx(ctx context.Context, tx *sql.Tx, o owner.Owner) error {
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO owners (id, name, email, notify_email, notify_push, push_address)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			notify_email = excluded.notify_email,
			notify_push = excluded.notify_push,
			push_address = excluded.push_address`),
		o.ID, o.Name, o.Email, boolInt(o.NotifyEmail), boolInt(o.NotifyPush), o.PushAddress); err != nil {
		return fmt.Errorf("put owner %s: %w", o.ID, err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM caregivers WHERE owner_id = ?`), o.ID); err != nil {
		return fmt.Errorf("clear caregivers %s: %w", o.ID, err)
	}
	for i, c := range o.Caregivers {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO caregivers (owner_id, position, name, address, notify_on_missed, notify_on_adherence)
			VALUES (?, ?, ?, ?, ?, ?)`),
			o.ID, i, c.Name, c.Address, boolInt(c.NotifyOnMissed), boolInt(c.NotifyOnAdherence)); err != nil {
			return fmt.Errorf("put caregiver %s/%d: %w", o.ID, i, err)
		}
	}
	return nil
}
