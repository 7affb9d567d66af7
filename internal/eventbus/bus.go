// Package eventbus is an in-process, non-blocking fanout of domain signals
// (scheduler ticks, notification outcomes). It owns no goroutines.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by medminder components.
const (
	TypeSchedulerTick    = "scheduler.tick"
	TypeTickSkipped      = "scheduler.tick_skipped"
	TypeNotifySent       = "notify.sent"
	TypeNotifyFailed     = "notify.failed"
	TypeNotifySuppressed = "notify.suppressed"
	TypeReminderChanged  = "reminder.status_changed"
	TypeConfigReloaded   = "config.reloaded"
)

// Event is a small signal. Data should be a value type from the publisher's
// package (e.g. a tick report) and must not be mutated after Publish.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers events without blocking the publisher. Slow subscribers drop.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	return ch, func() {}
}

// MemBus is the in-memory Bus.
type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

// Publish never blocks. Sends and unsubscribe closes are serialized by mu so a
// closed channel is never written to.
func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped returns how many deliveries were dropped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }
