package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"medminder/internal/eventbus"
	"medminder/internal/medicine"
	"medminder/internal/notify"
	"medminder/internal/owner"
	"medminder/internal/reminder"
	logx "medminder/pkg/logx"
)

// Sweeper is the slice of reminder.Sweeper the loop drives.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (reminder.SweepReport, error)
}

// Deps are the loop's collaborators. Bus and Tracer are optional.
type Deps struct {
	Medicines medicine.Registry
	Reminders reminder.Store
	Owners    owner.Directory
	Notifier  reminder.Notifier
	Sweeper   Sweeper
	Bus       eventbus.Bus
	Tracer    trace.Tracer
}

// Settings are live-tunable.
type Settings struct {
	Location      *time.Location
	Workers       int
	SweepEvery    time.Duration
	LowStockEvery time.Duration
	// CaregiverReminders also sends reminder notices to caregivers who opted
	// into adherence notices.
	CaregiverReminders bool
}

func (s Settings) normalized() Settings {
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.Workers <= 0 {
		s.Workers = 4
	}
	return s
}

// LowStockReport counts one low-inventory scan.
type LowStockReport struct {
	Scanned    int    `json:"scanned"`
	Low        int    `json:"low"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Suppressed int    `json:"suppressed"`
	Error      string `json:"error,omitempty"`
}

// TickReport summarizes one tick. Sweep and LowStock are nil when the
// sub-task was not due.
type TickReport struct {
	At           time.Time     `json:"at"`
	Took         time.Duration `json:"took"`
	Medicines    int           `json:"medicines"`
	Matched      int           `json:"matched"`
	Created      int           `json:"created"`
	Duplicates   int           `json:"duplicates"`
	Failed       int           `json:"failed"`
	Halted       int           `json:"halted"`
	Notified     int           `json:"notified"`
	NotifyFailed int           `json:"notify_failed"`
	Malformed    int           `json:"malformed"`
	ListError    string        `json:"list_error,omitempty"`

	Sweep      *reminder.SweepReport `json:"sweep,omitempty"`
	SweepError string                `json:"sweep_error,omitempty"`
	LowStock   *LowStockReport       `json:"low_stock,omitempty"`
}

// Busy reports whether the tick did anything worth an info line.
func (r TickReport) Busy() bool {
	return r.Matched > 0 || r.Failed > 0 || r.Malformed > 0 || r.ListError != "" ||
		r.SweepError != "" || (r.Sweep != nil && r.Sweep.Scanned > 0) ||
		(r.LowStock != nil && (r.LowStock.Low > 0 || r.LowStock.Error != ""))
}

// Loop executes ticks.
type Loop struct {
	d   Deps
	log logx.Logger

	mu sync.RWMutex
	s  Settings
}

func NewLoop(d Deps, s Settings, log logx.Logger) *Loop {
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("medminder/scheduler")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{d: d, s: s.normalized(), log: log.With(logx.String("comp", "scheduler"))}
}

// Apply swaps settings; the next tick picks them up.
func (l *Loop) Apply(s Settings) {
	l.mu.Lock()
	l.s = s.normalized()
	l.mu.Unlock()
}

func (l *Loop) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s
}

// Tick runs one pass for now.
func (l *Loop) Tick(ctx context.Context, now time.Time) TickReport {
	return l.run(ctx, nil, now)
}

// tally is the shared counter set workers write into.
type tally struct {
	mu  sync.Mutex
	rep *TickReport
}

func (t *tally) add(fn func(r *TickReport)) {
	t.mu.Lock()
	fn(t.rep)
	t.mu.Unlock()
}

// run is Tick with a halt channel: once halt is closed, items that have not
// started yet are skipped while started ones finish.
func (l *Loop) run(ctx context.Context, halt <-chan struct{}, now time.Time) TickReport {
	s := l.Settings()
	now = now.In(s.Location)
	start := time.Now()

	ctx, span := l.d.Tracer.Start(ctx, "scheduler.tick", trace.WithAttributes(
		attribute.String("tick.at", now.Format(time.RFC3339)),
	))
	defer span.End()

	rep := TickReport{At: now}
	acc := &tally{rep: &rep}

	var subs sync.WaitGroup
	if cadenceDue(now, s.SweepEvery) && l.d.Sweeper != nil {
		subs.Add(1)
		go func() {
			defer subs.Done()
			l.sweep(ctx, now, acc)
		}()
	}
	if cadenceDue(now, s.LowStockEvery) {
		subs.Add(1)
		go func() {
			defer subs.Done()
			l.lowStock(ctx, now, acc)
		}()
	}

	meds, err := l.d.Medicines.ListActive(ctx)
	if err != nil {
		acc.add(func(r *TickReport) { r.ListError = err.Error() })
		l.log.Warn("list active medicines failed", logx.Err(err))
		span.RecordError(err)
	} else {
		res := Match(now, s.Location, meds)
		acc.add(func(r *TickReport) {
			r.Medicines = len(meds)
			r.Matched = len(res.Due)
			r.Malformed = len(res.Malformed)
		})
		for _, mf := range res.Malformed {
			l.log.Warn("malformed schedule entry", logx.String("medicine", mf.MedicineID), logx.String("raw", mf.Raw))
		}

		g := new(errgroup.Group)
		g.SetLimit(s.Workers)
		for _, due := range res.Due {
			g.Go(func() error {
				if halted(halt) {
					acc.add(func(r *TickReport) { r.Halted++ })
					return nil
				}
				l.fire(ctx, s, due, now, acc)
				return nil
			})
		}
		_ = g.Wait()
	}
	subs.Wait()

	rep.Took = time.Since(start)
	span.SetAttributes(
		attribute.Int("tick.matched", rep.Matched),
		attribute.Int("tick.created", rep.Created),
		attribute.Int("tick.failed", rep.Failed),
	)
	if rep.Failed > 0 || rep.ListError != "" {
		span.SetStatus(codes.Error, "tick had failures")
	}

	l.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeSchedulerTick, Time: now, Data: rep})
	l.logReport(rep)
	return rep
}

// fire creates the pending event for one due slot and, only when it was
// created by this call, sends the reminder.
func (l *Loop) fire(ctx context.Context, s Settings, due Due, now time.Time, acc *tally) {
	med := due.Medicine
	defer func() {
		if r := recover(); r != nil {
			acc.add(func(rep *TickReport) { rep.Failed++ })
			l.log.Error("tick item panicked", logx.String("medicine", med.ID), logx.Any("panic", r))
		}
	}()

	ev, created, err := l.d.Reminders.CreateIfAbsent(ctx, reminder.NewPending(med.OwnerID, med.ID, due.ScheduledAt, now))
	if err != nil {
		acc.add(func(r *TickReport) { r.Failed++ })
		l.log.Warn("create reminder failed",
			logx.String("medicine", med.ID),
			logx.Time("scheduled_at", due.ScheduledAt),
			logx.Err(fmt.Errorf("%w: %w", reminder.ErrDependencyUnavailable, err)),
		)
		return
	}
	if !created {
		acc.add(func(r *TickReport) { r.Duplicates++ })
		l.log.Debug("reminder already exists", logx.String("medicine", med.ID), logx.String("event", ev.ID.String()))
		return
	}
	acc.add(func(r *TickReport) { r.Created++ })

	o, err := l.d.Owners.Get(ctx, med.OwnerID)
	if err != nil {
		acc.add(func(r *TickReport) { r.NotifyFailed++ })
		l.log.Warn("owner lookup failed; reminder not sent",
			logx.String("medicine", med.ID), logx.String("owner", med.OwnerID), logx.Err(err))
		return
	}
	res := l.d.Notifier.Fanout(ctx, o, notify.ReminderNotice{
		MedicineID:  med.ID,
		Medicine:    med.DisplayName(),
		ScheduledAt: due.ScheduledAt,
		DoseSize:    med.DoseSize,
		Caregivers:  s.CaregiverReminders,
	})
	acc.add(func(r *TickReport) {
		r.Notified += res.Sent
		r.NotifyFailed += res.Failed
	})
	if res.Err != nil {
		l.log.Warn("reminder delivery incomplete", logx.String("event", ev.ID.String()), logx.Err(res.Err))
	}
}

func (l *Loop) sweep(ctx context.Context, now time.Time, acc *tally) {
	ctx, span := l.d.Tracer.Start(ctx, "scheduler.sweep")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			acc.add(func(rep *TickReport) { rep.SweepError = fmt.Sprint("panic: ", r) })
			l.log.Error("sweep panicked", logx.Any("panic", r))
		}
	}()

	sr, err := l.d.Sweeper.Sweep(ctx, now)
	acc.add(func(r *TickReport) {
		r.Sweep = &sr
		if err != nil {
			r.SweepError = err.Error()
		}
	})
	span.SetAttributes(attribute.Int("sweep.scanned", sr.Scanned), attribute.Int("sweep.missed", sr.Missed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		l.log.Warn("missed-dose sweep failed", logx.Err(err))
	}
}

// lowStock lists medicines itself so a failed tick listing does not skip it.
func (l *Loop) lowStock(ctx context.Context, now time.Time, acc *tally) {
	ctx, span := l.d.Tracer.Start(ctx, "scheduler.low_stock")
	defer span.End()

	var lr LowStockReport
	defer func() {
		if r := recover(); r != nil {
			lr.Error = fmt.Sprint("panic: ", r)
			l.log.Error("low-stock scan panicked", logx.Any("panic", r))
		}
		acc.add(func(rep *TickReport) { rep.LowStock = &lr })
	}()

	meds, err := l.d.Medicines.ListActive(ctx)
	if err != nil {
		lr.Error = err.Error()
		span.RecordError(err)
		l.log.Warn("low-stock scan: list failed", logx.Err(err))
		return
	}

	owners := map[string]owner.Owner{}
	for _, m := range meds {
		lr.Scanned++
		if !m.LowStock() {
			continue
		}
		lr.Low++
		o, ok := owners[m.OwnerID]
		if !ok {
			o, err = l.d.Owners.Get(ctx, m.OwnerID)
			if err != nil {
				lr.Failed++
				l.log.Warn("low-stock scan: owner lookup failed", logx.String("medicine", m.ID), logx.String("owner", m.OwnerID), logx.Err(err))
				continue
			}
			owners[m.OwnerID] = o
		}
		res := l.d.Notifier.Fanout(ctx, o, notify.LowInventoryNotice{
			MedicineID: m.ID,
			Medicine:   m.DisplayName(),
			Remaining:  m.RemainingDoses,
			Threshold:  m.LowStockThreshold,
		})
		if res.Suppressed {
			lr.Suppressed++
			continue
		}
		lr.Sent += res.Sent
		lr.Failed += res.Failed
	}
	span.SetAttributes(attribute.Int("low_stock.low", lr.Low))
	if lr.Low > 0 {
		l.log.Info("low-stock scan done", logx.Int("low", lr.Low), logx.Int("sent", lr.Sent), logx.Int("suppressed", lr.Suppressed), logx.Time("at", now))
	}
}

func (l *Loop) logReport(r TickReport) {
	fields := []logx.Field{
		logx.Time("at", r.At),
		logx.Duration("took", r.Took),
		logx.Int("matched", r.Matched),
		logx.Int("created", r.Created),
		logx.Int("duplicates", r.Duplicates),
		logx.Int("failed", r.Failed),
		logx.Int("notified", r.Notified),
	}
	if r.Halted > 0 {
		fields = append(fields, logx.Int("halted", r.Halted))
	}
	if r.Sweep != nil {
		fields = append(fields, logx.Int("swept_missed", r.Sweep.Missed))
	}
	if r.Busy() {
		l.log.Info("tick", fields...)
		return
	}
	l.log.Debug("tick", fields...)
}

// cadenceDue reports whether minute-of-day is a multiple of every. With the
// default 60m low-stock cadence that is minute 0 of every hour.
func cadenceDue(now time.Time, every time.Duration) bool {
	step := int(every / time.Minute)
	if step <= 0 {
		return false
	}
	return (now.Hour()*60+now.Minute())%step == 0
}

func halted(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
	}
	return false
}
