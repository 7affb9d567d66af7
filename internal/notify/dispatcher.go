package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"medminder/internal/eventbus"
	"medminder/internal/owner"
	logx "medminder/pkg/logx"
)

const maxRenotifyEntries = 4096

// Dispatcher renders notices and delivers them synchronously. It is safe for
// concurrent use; Apply swaps settings at runtime.
type Dispatcher struct {
	gw  Gateway
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	mu      sync.RWMutex
	cfg     Settings
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []Delivery

	smu      sync.Mutex
	lowUntil map[string]time.Time
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) { d.log = log.With(logx.String("comp", "notify")) }
}

func WithBus(bus eventbus.Bus) Option { return func(d *Dispatcher) { d.bus = bus } }

func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func NewDispatcher(gw Gateway, s Settings, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gw:       gw,
		log:      logx.Nop(),
		bus:      eventbus.Nop{},
		now:      time.Now,
		lowUntil: map[string]time.Time{},
	}
	for _, o := range opts {
		o(d)
	}
	d.Apply(s)
	return d
}

// Apply installs new settings. In-flight sends keep the snapshot they started with.
func (d *Dispatcher) Apply(s Settings) {
	if s.RatePerSec <= 0 {
		s.RatePerSec = 5
	}
	if s.RetryMax < 0 {
		s.RetryMax = 0
	}
	if s.RetryBase <= 0 {
		s.RetryBase = 500 * time.Millisecond
	}
	if s.RetryMaxDelay <= 0 {
		s.RetryMaxDelay = 10 * time.Second
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = 15 * time.Second
	}
	if s.HistorySize <= 0 {
		s.HistorySize = 200
	}
	if s.LowStockRenotify < 0 {
		s.LowStockRenotify = 0
	}
	d.mu.Lock()
	d.cfg = s
	// Burst = rate so a tick's burst of reminders is not serialized needlessly.
	d.limiter = rate.NewLimiter(rate.Limit(s.RatePerSec), s.RatePerSec)
	d.mu.Unlock()
}

func (d *Dispatcher) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Fanout renders n and sends it to every recipient of o. One failed recipient
// does not stop the others.
func (d *Dispatcher) Fanout(ctx context.Context, o owner.Owner, n Notice) Result {
	recipients := n.Recipients(o)
	res := Result{Recipients: len(recipients)}
	if len(recipients) == 0 {
		return res
	}

	if _, ok := n.(LowInventoryNotice); ok && !d.allowLowStock(n.Key()) {
		res.Suppressed = true
		d.publish(eventbus.TypeNotifySuppressed, DeliveryEvent{Class: n.Class().String(), Key: n.Key(), At: d.now()})
		d.log.Debug("low inventory notice suppressed", logx.String("key", n.Key()))
		return res
	}

	subject, body, err := Render(n)
	if err != nil {
		res.Failed = len(recipients)
		res.Err = fmt.Errorf("%w: %w", ErrNotificationFailed, err)
		return res
	}

	var errs []error
	for _, to := range recipients {
		if err := d.deliver(ctx, n, to, subject, body); err != nil {
			res.Failed++
			errs = append(errs, err)
			continue
		}
		res.Sent++
	}
	res.Err = errors.Join(errs...)
	return res
}

// Send delivers n to a single address.
func (d *Dispatcher) Send(ctx context.Context, address string, n Notice) error {
	subject, body, err := Render(n)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	return d.deliver(ctx, n, address, subject, body)
}

func (d *Dispatcher) deliver(ctx context.Context, n Notice, to, subject, body string) error {
	d.mu.RLock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.RUnlock()

	maxAttempts := 1 + cfg.RetryMax
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := d.gw.Send(callCtx, to, subject, body)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if errors.Is(err, ErrNoRoute) || errors.Is(err, ErrOutcomeUnknown) || attempt >= maxAttempts {
			break
		}
		d.log.Debug("notify send failed; retrying",
			logx.String("to", redact(to)),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
			logx.Err(err),
		)
		if !sleepCtx(ctx, retryDelay(cfg, attempt)) {
			lastErr = ctx.Err()
			break
		}
	}

	now := d.now()
	item := Delivery{At: now, Class: n.Class().String(), Key: n.Key(), To: redact(to), Subject: subject, Attempts: attempts}
	ev := DeliveryEvent{Class: item.Class, Key: item.Key, To: item.To, At: now}
	if lastErr != nil {
		item.Error = lastErr.Error()
		ev.Error = item.Error
		d.appendHistory(item, cfg.HistorySize)
		d.publish(eventbus.TypeNotifyFailed, ev)
		d.log.Warn("notification failed",
			logx.String("class", item.Class),
			logx.String("key", item.Key),
			logx.String("to", item.To),
			logx.Int("attempts", attempts),
			logx.Err(lastErr),
		)
		return fmt.Errorf("%w: %s to %s: %w", ErrNotificationFailed, item.Class, item.To, lastErr)
	}
	d.appendHistory(item, cfg.HistorySize)
	d.publish(eventbus.TypeNotifySent, ev)
	return nil
}

// allowLowStock applies the optional re-notify window for low-inventory notices.
func (d *Dispatcher) allowLowStock(key string) bool {
	window := d.Settings().LowStockRenotify
	if window <= 0 {
		return true
	}
	now := d.now()
	d.smu.Lock()
	defer d.smu.Unlock()
	if until, ok := d.lowUntil[key]; ok && now.Before(until) {
		return false
	}
	d.lowUntil[key] = now.Add(window)
	if len(d.lowUntil) > maxRenotifyEntries {
		for k, until := range d.lowUntil {
			if !now.Before(until) {
				delete(d.lowUntil, k)
			}
		}
	}
	return true
}

// ResetLowStock clears suppression for a medicine, e.g. after a refill.
func (d *Dispatcher) ResetLowStock(medicineID string) {
	d.smu.Lock()
	delete(d.lowUntil, LowInventoryNotice{MedicineID: medicineID}.Key())
	d.smu.Unlock()
}

// History returns up to limit most recent deliveries, newest last.
func (d *Dispatcher) History(limit int) []Delivery {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	h := d.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]Delivery(nil), h...)
}

func (d *Dispatcher) appendHistory(item Delivery, size int) {
	d.hmu.Lock()
	d.history = append(d.history, item)
	if len(d.history) > size {
		d.history = d.history[len(d.history)-size:]
	}
	d.hmu.Unlock()
}

func (d *Dispatcher) publish(typ string, ev DeliveryEvent) {
	d.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg Settings, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	return min(d, cfg.RetryMaxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// redact keeps addresses recognizable in logs without printing push tokens.
func redact(address string) string {
	scheme, target, err := ParseAddress(address)
	if err != nil || scheme != SchemeFCM || len(target) <= 8 {
		return address
	}
	return scheme + ":" + target[:4] + "..." + target[len(target)-4:]
}
