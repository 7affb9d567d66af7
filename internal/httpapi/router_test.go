package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"medminder/internal/medicine"
	"medminder/internal/notify"
	"medminder/internal/notify/notifytest"
	"medminder/internal/owner"
	"medminder/internal/reminder"
	"medminder/internal/scheduler"
	"medminder/internal/storage/memory"
	logx "medminder/pkg/logx"
)

var now = time.Date(2025, 3, 1, 8, 5, 0, 0, time.UTC)

type apiFixture struct {
	store *memory.Store
	rec   *notifytest.Recorder
	disp  *notify.Dispatcher
	srv   *httptest.Server
}

func newAPI(t *testing.T, status func() scheduler.Status) *apiFixture {
	t.Helper()
	f := &apiFixture{store: memory.New(), rec: notifytest.New()}
	f.store.PutOwner(owner.Owner{ID: "ana", Email: "ana@example.com", NotifyEmail: true,
		Caregivers: []owner.Caregiver{{Address: "cy@example.com", NotifyOnAdherence: true}}})
	f.store.PutMedicine(medicine.Medicine{ID: "m", OwnerID: "ana", Active: true, RemainingDoses: 5, DoseSize: 1, LowStockThreshold: 1})

	f.disp = notify.NewDispatcher(f.rec, notify.Settings{RatePerSec: 1000, RetryMax: 1, RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond})
	machine := reminder.NewMachine(reminder.Deps{
		Store:     f.store.Reminders(),
		Medicines: f.store,
		Owners:    f.store.Owners(),
		Notifier:  f.disp,
		Now:       func() time.Time { return now },
	}, 30*time.Minute, logx.Nop())

	f.srv = httptest.NewServer(NewRouter(Deps{
		Marker:     machine,
		Reminders:  f.store.Reminders(),
		Ledger:     f.store,
		Scheduler:  status,
		Deliveries: f.disp,
		Now:        func() time.Time { return now },
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) pending(t *testing.T) reminder.Event {
	t.Helper()
	slot := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	ev, _, err := f.store.Reminders().CreateIfAbsent(context.Background(), reminder.NewPending("ana", "m", slot, slot))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return ev
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newAPI(t, nil)
	resp, err := f.srv.Client().Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestMarkTakenFlow(t *testing.T) {
	t.Parallel()
	f := newAPI(t, nil)
	ev := f.pending(t)
	path := "/v1/reminders/" + ev.ID.String()

	resp, body := f.do(t, http.MethodPost, path+"/taken", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "taken" || body["taken_at"] == nil {
		t.Fatalf("taken: %d %v", resp.StatusCode, body)
	}
	m, _ := f.store.Get(context.Background(), "m")
	if m.RemainingDoses != 4 {
		t.Fatalf("remaining=%d", m.RemainingDoses)
	}

	resp, _ = f.do(t, http.MethodPost, path+"/taken", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat taken: %d", resp.StatusCode)
	}
	m, _ = f.store.Get(context.Background(), "m")
	if m.RemainingDoses != 4 {
		t.Fatalf("repeat depleted, remaining=%d", m.RemainingDoses)
	}

	resp, body = f.do(t, http.MethodPost, path+"/skipped", "")
	if resp.StatusCode != http.StatusConflict || body["error"] == nil {
		t.Fatalf("skip after taken: %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, path, "")
	if resp.StatusCode != http.StatusOK || body["status"] != "taken" {
		t.Fatalf("get: %d %v", resp.StatusCode, body)
	}
}

func TestMarkSkipped(t *testing.T) {
	t.Parallel()
	f := newAPI(t, nil)
	ev := f.pending(t)
	resp, body := f.do(t, http.MethodPost, "/v1/reminders/"+ev.ID.String()+"/skipped", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "skipped" {
		t.Fatalf("skipped: %d %v", resp.StatusCode, body)
	}
}

func TestReminderErrors(t *testing.T) {
	t.Parallel()
	f := newAPI(t, nil)
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/v1/reminders/not-a-uuid/taken", http.StatusBadRequest},
		{http.MethodPost, "/v1/reminders/" + uuid.NewString() + "/taken", http.StatusNotFound},
		{http.MethodGet, "/v1/reminders/" + uuid.NewString(), http.StatusNotFound},
		{http.MethodGet, "/v1/reminders/" + uuid.NewString() + "/taken", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		resp, _ := f.do(t, tt.method, tt.path, "")
		if resp.StatusCode != tt.want {
			t.Fatalf("%s %s: %d want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestRefill(t *testing.T) {
	t.Parallel()
	f := newAPI(t, nil)
	tests := []struct {
		path, body string
		want       int
		remaining  float64
	}{
		{"/v1/medicines/m/refill", `{"amount": 30}`, http.StatusOK, 35},
		{"/v1/medicines/m/refill", `{"amount": 0}`, http.StatusBadRequest, 0},
		{"/v1/medicines/m/refill", `{`, http.StatusBadRequest, 0},
		{"/v1/medicines/ghost/refill", `{"amount": 1}`, http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		resp, body := f.do(t, http.MethodPost, tt.path, tt.body)
		if resp.StatusCode != tt.want {
			t.Fatalf("%s %s: %d want %d (%v)", tt.path, tt.body, resp.StatusCode, tt.want, body)
		}
		if tt.want == http.StatusOK && body["remaining"] != tt.remaining {
			t.Fatalf("remaining=%v want %v", body["remaining"], tt.remaining)
		}
	}
}

func TestSchedulerStatus(t *testing.T) {
	t.Parallel()
	off := newAPI(t, nil)
	if resp, _ := off.do(t, http.MethodGet, "/v1/scheduler/status", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("disabled scheduler: %d", resp.StatusCode)
	}

	on := newAPI(t, func() scheduler.Status {
		return scheduler.Status{Running: true, Timezone: "UTC", Ticks: 7, Skipped: 1}
	})
	resp, body := on.do(t, http.MethodGet, "/v1/scheduler/status", "")
	if resp.StatusCode != http.StatusOK || body["running"] != true || body["ticks"] != float64(7) || body["skipped_overlaps"] != float64(1) {
		t.Fatalf("status: %d %v", resp.StatusCode, body)
	}
}

func TestNotificationHistory(t *testing.T) {
	t.Parallel()
	f := newAPI(t, nil)
	ev := f.pending(t)
	f.do(t, http.MethodPost, "/v1/reminders/"+ev.ID.String()+"/taken", "")

	resp, err := f.srv.Client().Get(f.srv.URL + "/v1/notifications/history?limit=10")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var items []notify.Delivery
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].To != "cy@example.com" {
		t.Fatalf("history=%+v", items)
	}

	if resp, _ := f.do(t, http.MethodGet, "/v1/notifications/history?limit=x", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", resp.StatusCode)
	}
}

func TestServerRunAndShutdown(t *testing.T) {
	t.Parallel()
	s := NewServer("127.0.0.1:0", NewRouter(Deps{}), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for strings.HasSuffix(s.Addr(), ":0") {
		if time.Now().After(deadline) {
			t.Fatalf("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
