// Package httpapi is the status-update HTTP surface: it marks reminders taken
// or skipped through the reminder state machine, records refills and serves
// scheduler and delivery diagnostics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"medminder/internal/medicine"
	"medminder/internal/notify"
	"medminder/internal/reminder"
	"medminder/internal/scheduler"
	logx "medminder/pkg/logx"
)

// Marker is the slice of reminder.Machine the API drives.
type Marker interface {
	MarkTaken(ctx context.Context, id uuid.UUID) (reminder.Event, error)
	MarkSkipped(ctx context.Context, id uuid.UUID) (reminder.Event, error)
}

// Deliveries is the dispatcher's history and low-stock reset.
type Deliveries interface {
	History(limit int) []notify.Delivery
	ResetLowStock(medicineID string)
}

// Deps are the API's collaborators. Scheduler and Deliveries are optional.
type Deps struct {
	Marker     Marker
	Reminders  reminder.Store
	Ledger     medicine.Ledger
	Scheduler  func() scheduler.Status
	Deliveries Deliveries
	Now        func() time.Time
	Log        logx.Logger
	// Pprof mounts the runtime profiler under /debug.
	Pprof bool
}

func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	h := &handlers{d: d, log: d.Log.With(logx.String("comp", "httpapi"))}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v chi.Router) {
		v.Get("/reminders/{id}", h.getReminder)
		v.Post("/reminders/{id}/taken", h.mark(reminder.StatusTaken))
		v.Post("/reminders/{id}/skipped", h.mark(reminder.StatusSkipped))
		v.Post("/medicines/{id}/refill", h.refill)
		v.Get("/scheduler/status", h.schedulerStatus)
		v.Get("/notifications/history", h.history)
	})

	if d.Pprof {
		r.Mount("/debug", chimw.Profiler())
	}
	return r
}

type handlers struct {
	d   Deps
	log logx.Logger
}

type eventResponse struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	MedicineID  string          `json:"medicine_id"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	FiredAt     time.Time       `json:"fired_at"`
	Status      reminder.Status `json:"status"`
	TakenAt     *time.Time      `json:"taken_at,omitempty"`
	MissedAt    *time.Time      `json:"missed_at,omitempty"`
	Note        string          `json:"note,omitempty"`
}

func toEventResponse(ev reminder.Event) eventResponse {
	out := eventResponse{
		ID:          ev.ID.String(),
		OwnerID:     ev.OwnerID,
		MedicineID:  ev.MedicineID,
		ScheduledAt: ev.ScheduledAt,
		FiredAt:     ev.FiredAt,
		Status:      ev.Status,
		Note:        ev.Note,
	}
	if !ev.TakenAt.IsZero() {
		t := ev.TakenAt
		out.TakenAt = &t
	}
	if !ev.MissedAt.IsZero() {
		t := ev.MissedAt
		out.MissedAt = &t
	}
	return out
}

func (h *handlers) eventID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reminder id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) getReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	ev, err := h.d.Reminders.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

func (h *handlers) mark(to reminder.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.eventID(w, r)
		if !ok {
			return
		}
		var (
			ev  reminder.Event
			err error
		)
		switch to {
		case reminder.StatusTaken:
			ev, err = h.d.Marker.MarkTaken(r.Context(), id)
		default:
			ev, err = h.d.Marker.MarkSkipped(r.Context(), id)
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(ev))
	}
}

type refillRequest struct {
	Amount int `json:"amount"`
}

type refillResponse struct {
	MedicineID string `json:"medicine_id"`
	Remaining  int    `json:"remaining"`
}

func (h *handlers) refill(w http.ResponseWriter, r *http.Request) {
	var req refillRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id := chi.URLParam(r, "id")
	remaining, err := h.d.Ledger.Refill(r.Context(), id, req.Amount, h.d.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.d.Deliveries != nil {
		h.d.Deliveries.ResetLowStock(id)
	}
	h.log.Info("medicine refilled", logx.String("medicine", id), logx.Int("amount", req.Amount), logx.Int("remaining", remaining))
	writeJSON(w, http.StatusOK, refillResponse{MedicineID: id, Remaining: remaining})
}

func (h *handlers) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if h.d.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.d.Scheduler())
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	if h.d.Deliveries == nil {
		writeJSON(w, http.StatusOK, []notify.Delivery{})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	out := h.d.Deliveries.History(limit)
	if out == nil {
		out = []notify.Delivery{}
	}
	writeJSON(w, http.StatusOK, out)
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reminder.ErrNotFound), errors.Is(err, medicine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reminder.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, medicine.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, reminder.ErrDependencyUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		h.log.Warn("request failed",
			logx.String("path", r.URL.Path),
			logx.String("request_id", chimw.GetReqID(r.Context())),
			logx.Err(err),
		)
	}
	writeError(w, code, err.Error())
}

func (h *handlers) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
