package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "medminder/pkg/logx"
)

// SweepReport counts one sweep's outcome.
type SweepReport struct {
	Scanned      int `json:"scanned"`
	Missed       int `json:"missed"`
	Conflicts    int `json:"conflicts"`
	Failed       int `json:"failed"`
	NotifySent   int `json:"notify_sent"`
	NotifyFailed int `json:"notify_failed"`
	MissingRefs  int `json:"missing_refs"`
	Batches      int `json:"batches"`
}

// Sweeper forces overdue pending events to missed.
type Sweeper struct {
	store   Store
	machine *Machine
	log     logx.Logger

	mu    sync.RWMutex
	batch int
}

func NewSweeper(store Store, machine *Machine, batch int, log logx.Logger) *Sweeper {
	if batch <= 0 {
		batch = 500
	}
	return &Sweeper{store: store, machine: machine, batch: batch, log: log.With(logx.String("comp", "sweeper"))}
}

func (s *Sweeper) SetBatch(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.batch = n
	s.mu.Unlock()
}

// Sweep transitions every pending event scheduled before now minus grace.
// Each event is handled on its own: a conflict (already taken or skipped) is
// skipped, a failure is logged and counted, and the sweep continues. Batches
// repeat until a short batch or a batch with nothing new.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var rep SweepReport
	cutoff := now.Add(-s.machine.Grace())
	s.mu.RLock()
	limit := s.batch
	s.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	for ctx.Err() == nil {
		events, err := s.store.FindPendingOlderThan(ctx, cutoff, limit)
		if err != nil {
			return rep, unavailable("find pending", err)
		}
		rep.Batches++

		fresh := 0
		for _, ev := range events {
			if _, ok := seen[ev.ID]; ok {
				continue
			}
			seen[ev.ID] = struct{}{}
			fresh++
			rep.Scanned++
			s.sweepOne(ctx, ev, now, &rep)
		}
		if len(events) < limit || fresh == 0 {
			break
		}
	}

	if rep.Scanned > 0 {
		s.log.Info("missed-dose sweep done",
			logx.Int("scanned", rep.Scanned),
			logx.Int("missed", rep.Missed),
			logx.Int("conflicts", rep.Conflicts),
			logx.Int("failed", rep.Failed),
		)
	}
	return rep, ctx.Err()
}

func (s *Sweeper) sweepOne(ctx context.Context, ev Event, now time.Time, rep *SweepReport) {
	defer func() {
		if r := recover(); r != nil {
			rep.Failed++
			s.log.Error("sweep item panicked", logx.String("event", ev.ID.String()), logx.Any("panic", r))
		}
	}()

	out, err := s.machine.MarkMissed(ctx, ev, now)
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
		rep.Conflicts++
		s.log.Debug("sweep skipped event that is no longer pending", logx.String("event", ev.ID.String()))
		return
	default:
		rep.Failed++
		s.log.Warn("sweep item failed", logx.String("event", ev.ID.String()), logx.Err(err))
		return
	}

	rep.Missed++
	if out.RefErr != nil {
		rep.MissingRefs++
		s.log.Warn("missed event has a dangling reference; notice skipped",
			logx.String("event", ev.ID.String()),
			logx.String("medicine", ev.MedicineID),
			logx.String("owner", ev.OwnerID),
			logx.Err(out.RefErr),
		)
		return
	}
	rep.NotifySent += out.Notify.Sent
	rep.NotifyFailed += out.Notify.Failed
}
