// Package notifytest provides an in-memory notify.Gateway for tests.
package notifytest

import (
	"context"
	"sync"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Recorder records every message it is asked to send. Addresses listed in
// Fail return Err (or a default error).
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	fail map[string]error
}

func New() *Recorder { return &Recorder{fail: map[string]error{}} }

// FailFor makes sends to address fail with err.
func (r *Recorder) FailFor(address string, err error) {
	r.mu.Lock()
	r.fail[address] = err
	r.mu.Unlock()
}

func (r *Recorder) Send(_ context.Context, address, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[address]; ok {
		return err
	}
	r.msgs = append(r.msgs, Message{To: address, Subject: subject, Body: body})
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// To returns messages delivered to address.
func (r *Recorder) To(address string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.To == address {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
