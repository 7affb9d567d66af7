package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"medminder/internal/storage/seed"
)

// Seed upserts owners and medicines in one transaction. Existing medicines
// keep their remaining doses and consumption stamps.
func (s *Store) Seed(ctx context.Context, d seed.Data) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, o := range d.Owners {
			if err := s.putOwnerTx(ctx, tx, o); err != nil {
				return err
			}
		}
		for _, m := range d.Medicines {
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO medicines (`+medicineColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET
					owner_id = excluded.owner_id,
					name = excluded.name,
					active = excluded.active,
					frequency = excluded.frequency,
					times = excluded.times,
					dose_size = excluded.dose_size,
					low_stock_threshold = excluded.low_stock_threshold`),
				medicineArgs(m)...); err != nil {
				return fmt.Errorf("seed medicine %s: %w", m.ID, err)
			}
		}
		return nil
	})
}
