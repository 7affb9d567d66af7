package telegram

import (
	"context"
	"errors"
	"testing"

	tele "gopkg.in/telebot.v4"
)

type fakeSender struct {
	to   tele.Recipient
	what interface{}
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.to, f.what = to, what
	return &tele.Message{}, f.err
}

func TestSendEscapesAndTargetsChat(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	g := &Gateway{bot: fs}
	if err := g.Send(context.Background(), "tg:42", "Dose <taken>", "A & B"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fs.to.Recipient() != "42" {
		t.Fatalf("recipient = %s, want 42", fs.to.Recipient())
	}
	want := "<b>Dose &lt;taken&gt;</b>\nA &amp; B"
	if fs.what != want {
		t.Fatalf("text = %q, want %q", fs.what, want)
	}
}

func TestSendRejectsBadChatID(t *testing.T) {
	t.Parallel()
	g := &Gateway{bot: &fakeSender{}}
	if err := g.Send(context.Background(), "tg:alice", "s", "b"); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestSendWrapsError(t *testing.T) {
	t.Parallel()
	boom := errors.New("forbidden: bot was blocked by the user")
	g := &Gateway{bot: &fakeSender{err: boom}}
	if err := g.Send(context.Background(), "7", "s", "b"); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
