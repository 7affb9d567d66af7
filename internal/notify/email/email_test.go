package email

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/gomail.v2"

	"medminder/internal/notify"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
	wait time.Duration
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.wait > 0 {
		time.Sleep(f.wait)
	}
	f.sent = append(f.sent, m...)
	return f.err
}

func TestSendBuildsMessage(t *testing.T) {
	t.Parallel()
	fd := &fakeDialer{}
	g := &Gateway{from: "medminder@example.com", dialer: fd}

	if err := g.Send(context.Background(), "mailto:ana@example.com", "Time to take Aspirin", "take 1 dose"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fd.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(fd.sent))
	}
	m := fd.sent[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "ana@example.com" {
		t.Fatalf("To = %v", got)
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !strings.Contains(buf.String(), "take 1 dose") {
		t.Fatalf("body missing from message:\n%s", buf.String())
	}
}

func TestSendWrapsDialError(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection refused")
	g := &Gateway{from: "x@example.com", dialer: &fakeDialer{err: boom}}
	if err := g.Send(context.Background(), "a@example.com", "s", "b"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestSendHonorsCancellation(t *testing.T) {
	t.Parallel()
	g := &Gateway{from: "x@example.com", dialer: &fakeDialer{wait: time.Second}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Send(ctx, "a@example.com", "s", "b")
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, notify.ErrOutcomeUnknown) {
		t.Fatalf("err = %v, want deadline exceeded with unknown outcome", err)
	}
}

func TestSlowServerIsNotResent(t *testing.T) {
	t.Parallel()
	fd := &countingDialer{wait: 200 * time.Millisecond}
	g := &Gateway{from: "x@example.com", dialer: fd}
	d := notify.NewDispatcher(g, notify.Settings{
		RatePerSec: 1000, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond,
		SendTimeout: 20 * time.Millisecond,
	})

	err := d.Send(context.Background(), "mailto:ana@example.com", notify.ReminderNotice{Medicine: "Aspirin", DoseSize: 1})
	if !errors.Is(err, notify.ErrOutcomeUnknown) {
		t.Fatalf("err = %v, want unknown outcome", err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := fd.calls.Load(); n != 1 {
		t.Fatalf("DialAndSend calls = %d, want 1", n)
	}
	if h := d.History(0); len(h) != 1 || h[0].Attempts != 1 {
		t.Fatalf("history = %+v", h)
	}
}

type countingDialer struct {
	calls atomic.Int32
	wait  time.Duration
}

func (c *countingDialer) DialAndSend(...*gomail.Message) error {
	c.calls.Add(1)
	time.Sleep(c.wait)
	return nil
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Port: 587, From: "a@b"}); err == nil {
		t.Fatal("expected error without host")
	}
	if _, err := New(Config{Host: "smtp.example.com", Port: 587}); err == nil {
		t.Fatal("expected error without from")
	}
	if _, err := New(Config{Host: "smtp.example.com", Port: 587, From: "a@b"}); err != nil {
		t.Fatalf("New: %v", err)
	}
}
