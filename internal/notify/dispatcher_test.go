package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"medminder/internal/eventbus"
	"medminder/internal/notify/notifytest"
	"medminder/internal/owner"
)

var testOwner = owner.Owner{
	ID:          "o1",
	Email:       "owner@example.com",
	NotifyEmail: true,
	PushAddress: "tg:1001",
	NotifyPush:  true,
	Caregivers: []owner.Caregiver{
		{Address: "missed@example.com", NotifyOnMissed: true},
		{Address: "adh@example.com", NotifyOnAdherence: true},
	},
}

func fastSettings() Settings {
	return Settings{RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func TestFanoutRecipientsPerClass(t *testing.T) {
	t.Parallel()
	sched := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		notice Notice
		want   []string
	}{
		{name: "reminder owner only", notice: ReminderNotice{MedicineID: "m1", Medicine: "Aspirin", ScheduledAt: sched, DoseSize: 1},
			want: []string{"owner@example.com", "tg:1001"}},
		{name: "reminder with caregivers", notice: ReminderNotice{MedicineID: "m1", Medicine: "Aspirin", ScheduledAt: sched, DoseSize: 1, Caregivers: true},
			want: []string{"owner@example.com", "tg:1001", "adh@example.com"}},
		{name: "missed", notice: MissedNotice{MedicineID: "m1", Medicine: "Aspirin", ScheduledAt: sched, MissedAt: sched.Add(36 * time.Minute)},
			want: []string{"owner@example.com", "tg:1001", "missed@example.com"}},
		{name: "adherence", notice: AdherenceNotice{MedicineID: "m1", Medicine: "Aspirin", ScheduledAt: sched, TakenAt: sched.Add(5 * time.Minute), Remaining: 4},
			want: []string{"adh@example.com"}},
		{name: "low inventory", notice: LowInventoryNotice{MedicineID: "m1", Medicine: "Aspirin", Remaining: 2, Threshold: 3},
			want: []string{"owner@example.com", "tg:1001", "missed@example.com"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := notifytest.New()
			d := NewDispatcher(rec, fastSettings())
			res := d.Fanout(context.Background(), testOwner, tt.notice)
			if res.Err != nil {
				t.Fatalf("Fanout err: %v", res.Err)
			}
			msgs := rec.Messages()
			if len(msgs) != len(tt.want) || res.Sent != len(tt.want) {
				t.Fatalf("sent %d messages (%+v), want %v", len(msgs), msgs, tt.want)
			}
			for i, m := range msgs {
				if m.To != tt.want[i] {
					t.Fatalf("message %d to %s, want %s", i, m.To, tt.want[i])
				}
				if m.Subject == "" || m.Body == "" {
					t.Fatalf("message %d not rendered: %+v", i, m)
				}
			}
		})
	}
}

func TestFanoutIsolatesFailedRecipient(t *testing.T) {
	t.Parallel()
	rec := notifytest.New()
	boom := errors.New("smtp down")
	rec.FailFor("owner@example.com", boom)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	d := NewDispatcher(rec, fastSettings(), WithBus(bus))
	res := d.Fanout(context.Background(), testOwner, MissedNotice{MedicineID: "m1", Medicine: "Aspirin"})

	if res.Sent != 2 || res.Failed != 1 {
		t.Fatalf("sent=%d failed=%d, want 2/1", res.Sent, res.Failed)
	}
	if !errors.Is(res.Err, ErrNotificationFailed) || !errors.Is(res.Err, boom) {
		t.Fatalf("Err = %v, want ErrNotificationFailed wrapping %v", res.Err, boom)
	}

	var failed int
	for len(events) > 0 {
		if ev := <-events; ev.Type == eventbus.TypeNotifyFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("notify.failed events = %d, want 1", failed)
	}
	h := d.History(0)
	if len(h) != 3 || h[0].Attempts != 3 || h[0].Error == "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	gw := GatewayFunc(func(context.Context, string, string, string) error {
		if calls.Add(1) < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	d := NewDispatcher(gw, fastSettings())
	if err := d.Send(context.Background(), "a@example.com", ReminderNotice{Medicine: "x", DoseSize: 2}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDeliverDoesNotRetryUnroutable(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	gw := GatewayFunc(func(context.Context, string, string, string) error {
		calls.Add(1)
		return ErrNoRoute
	})
	d := NewDispatcher(gw, fastSettings())
	if err := d.Send(context.Background(), "nowhere", ReminderNotice{}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestDeliverDoesNotRetryUnknownOutcome(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	gw := GatewayFunc(func(context.Context, string, string, string) error {
		calls.Add(1)
		return fmt.Errorf("smtp send: %w: %w", ErrOutcomeUnknown, context.DeadlineExceeded)
	})
	d := NewDispatcher(gw, fastSettings())
	if err := d.Send(context.Background(), "a@example.com", ReminderNotice{}); !errors.Is(err, ErrOutcomeUnknown) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestLowStockRenotifyWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	n := LowInventoryNotice{MedicineID: "m1", Medicine: "Aspirin", Remaining: 1, Threshold: 3}

	nag := NewDispatcher(notifytest.New(), fastSettings(), WithClock(clock))
	for i := 0; i < 2; i++ {
		if res := nag.Fanout(context.Background(), testOwner, n); res.Suppressed || res.Sent == 0 {
			t.Fatalf("scan %d: default must re-notify, got %+v", i, res)
		}
	}

	s := fastSettings()
	s.LowStockRenotify = 6 * time.Hour
	rec := notifytest.New()
	quiet := NewDispatcher(rec, s, WithClock(clock))
	if res := quiet.Fanout(context.Background(), testOwner, n); res.Suppressed {
		t.Fatal("first scan must notify")
	}
	if res := quiet.Fanout(context.Background(), testOwner, n); !res.Suppressed {
		t.Fatal("second scan inside window must be suppressed")
	}
	quiet.ResetLowStock("m1")
	if res := quiet.Fanout(context.Background(), testOwner, n); res.Suppressed {
		t.Fatal("reset must allow a new notice")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Settings{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d delay %s out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %s outside jitter range", d)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	sched := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	subject, body, err := Render(AdherenceNotice{Medicine: "Aspirin", ScheduledAt: sched, TakenAt: sched.Add(5 * time.Minute), Remaining: 1})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if subject != "Dose taken: Aspirin" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(body, "08:00") || !strings.Contains(body, "08:05") || !strings.Contains(body, "1 dose left") {
		t.Fatalf("body = %q", body)
	}
}
