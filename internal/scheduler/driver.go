package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"medminder/internal/eventbus"
	logx "medminder/pkg/logx"
)

// Status is the driver snapshot served by the status endpoint.
type Status struct {
	Running      bool        `json:"running"`
	Timezone     string      `json:"timezone"`
	TickInterval string      `json:"tick_interval"`
	InFlight     bool        `json:"in_flight"`
	Ticks        uint64      `json:"ticks"`
	Skipped      uint64      `json:"skipped_overlaps"`
	Next         time.Time   `json:"next,omitempty"`
	LastTick     *TickReport `json:"last_tick,omitempty"`
}

// Driver triggers Loop ticks from the wall clock. robfig/cron is only the
// trigger: a trigger that fires while a tick is still running is skipped and
// counted, so two ticks never interleave.
type Driver struct {
	loop *Loop
	bus  eventbus.Bus
	log  logx.Logger
	now  func() time.Time

	mu       sync.Mutex
	c        *cron.Cron
	entry    cron.EntryID
	interval time.Duration
	loc      *time.Location
	halt     chan struct{}
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	inFlight atomic.Bool
	ticks    atomic.Uint64
	skipped  atomic.Uint64
	last     atomic.Pointer[TickReport]
}

type DriverOption func(*Driver)

// WithClock overrides the tick timestamp source.
func WithClock(now func() time.Time) DriverOption { return func(d *Driver) { d.now = now } }

func WithBus(bus eventbus.Bus) DriverOption { return func(d *Driver) { d.bus = bus } }

func NewDriver(loop *Loop, interval time.Duration, log logx.Logger, opts ...DriverOption) *Driver {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Driver{
		loop:     loop,
		bus:      eventbus.Nop{},
		log:      log.With(logx.String("comp", "scheduler.driver")),
		now:      time.Now,
		interval: interval,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// triggerSpec maps the tick interval to a cron spec. Dose times match at
// HH:MM, so only a trigger at the top of every minute sees each of them.
func triggerSpec(interval time.Duration) (string, error) {
	if interval <= 0 || interval == time.Minute {
		return "* * * * *", nil
	}
	return "", fmt.Errorf("tick interval %s: only 1m keeps every dose time reachable", interval)
}

// Start begins triggering. It is a no-op when already running.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return nil
	}
	spec, err := triggerSpec(d.interval)
	if err != nil {
		return err
	}
	loc := d.loop.Settings().Location

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithLocation(loc))
	id, err := c.AddFunc(spec, func() { d.trigger(ctx) })
	if err != nil {
		cancel()
		return fmt.Errorf("register tick trigger: %w", err)
	}
	d.c, d.entry, d.loc = c, id, loc
	d.halt = make(chan struct{})
	d.runCtx, d.cancel = ctx, cancel
	c.Start()
	d.log.Info("scheduler started", logx.String("tz", loc.String()), logx.String("spec", spec))
	return nil
}

// Stop stops the trigger and waits for an in-flight tick. Items the tick
// already started run to completion; items not yet started are skipped. When
// ctx expires first, running items are cancelled.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	c, halt, cancel := d.c, d.halt, d.cancel
	d.c, d.halt, d.runCtx, d.cancel = nil, nil, nil, nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}

	start := time.Now()
	<-c.Stop().Done()
	close(halt)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
		err = ctx.Err()
	}
	cancel()
	d.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)), logx.Err(err))
	return err
}

// Restart re-registers the trigger, e.g. after a timezone or interval change.
func (d *Driver) Restart(ctx context.Context, interval time.Duration) error {
	if _, err := triggerSpec(interval); err != nil {
		return err
	}
	if err := d.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	d.mu.Lock()
	d.interval = interval
	d.mu.Unlock()
	return d.Start()
}

// Interval returns the configured tick interval.
func (d *Driver) Interval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

// trigger runs on the cron goroutine.
func (d *Driver) trigger(ctx context.Context) {
	if !d.inFlight.CompareAndSwap(false, true) {
		n := d.skipped.Add(1)
		d.log.Warn("tick skipped: previous tick still running", logx.Uint64("skipped_total", n))
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeTickSkipped, Time: d.now(), Data: n})
		return
	}

	d.mu.Lock()
	halt := d.halt
	if halt == nil {
		d.mu.Unlock()
		d.inFlight.Store(false)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.inFlight.Store(false)
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("tick panicked", logx.Any("panic", r))
			}
		}()
		rep := d.loop.run(ctx, halt, d.now())
		d.ticks.Add(1)
		d.last.Store(&rep)
	}()
}

// RunOnce runs a tick through the overlap guard; ok is false when a tick was
// already in flight.
func (d *Driver) RunOnce(ctx context.Context) (TickReport, bool) {
	if !d.inFlight.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		return TickReport{}, false
	}
	defer d.inFlight.Store(false)
	rep := d.loop.run(ctx, nil, d.now())
	d.ticks.Add(1)
	d.last.Store(&rep)
	return rep, true
}

func (d *Driver) Status() Status {
	d.mu.Lock()
	c, id, loc, interval := d.c, d.entry, d.loc, d.interval
	d.mu.Unlock()
	if loc == nil {
		loc = d.loop.Settings().Location
	}

	st := Status{
		Running:      c != nil,
		Timezone:     loc.String(),
		TickInterval: interval.String(),
		InFlight:     d.inFlight.Load(),
		Ticks:        d.ticks.Load(),
		Skipped:      d.skipped.Load(),
		LastTick:     d.last.Load(),
	}
	if c != nil {
		st.Next = c.Entry(id).Next
	}
	return st
}
