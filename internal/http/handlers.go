// Package httpapi exposes the study session and stats endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hperssn/moodflow/internal/domain"
	"github.com/hperssn/moodflow/internal/notify"
	"github.com/hperssn/moodflow/internal/stats"
)

type Handler struct {
	svc *stats.Service
	hub *notify.Hub
	log *slog.Logger
}

func NewHandler(svc *stats.Service, hub *notify.Hub, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, hub: hub, log: log}
}

// Router wires all routes. Every route except /healthz needs an identity.
func (h *Handler) Router(devUser string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(ExtractUser(devUser, h.log))

		r.Post("/sessions", h.startSession)
		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{id}", h.getSession)
		r.Put("/sessions/{id}/complete", h.completeSession)

		r.Get("/stats", h.getStats)
		r.Post("/stats/reconcile", h.reconcileStats)
		r.Get("/stats/events", StreamStatsEvents(h.svc, h.hub))
	})

	return r
}

// fail writes err with its mapped status; server errors are logged and
// their detail is not echoed to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		respondError(w, "internal error", status)
		return
	}
	respondError(w, err.Error(), status)
}

// decodeBody treats an empty body as an empty object.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type startSessionRequest struct {
	PlannedMinutes int        `json:"plannedMinutes"`
	Mood           string     `json:"mood"`
	TaskType       string     `json:"taskType"`
	TaskID         string     `json:"taskId"`
	Notes          string     `json:"notes"`
	StartedAt      *time.Time `json:"startedAt"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	draft := domain.SessionDraft{
		PlannedMinutes: req.PlannedMinutes,
		Mood:           domain.Mood(req.Mood),
		TaskType:       domain.TaskType(req.TaskType),
		TaskID:         req.TaskID,
		Notes:          req.Notes,
	}
	if req.StartedAt != nil {
		draft.StartedAt = req.StartedAt.UTC()
	}

	session, err := h.svc.StartSession(r.Context(), GetUserID(r), draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, map[string]any{"session": session}, http.StatusCreated)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context(), GetUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, map[string]any{"sessions": sessions}, http.StatusOK)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.svc.GetSession(r.Context(), GetUserID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, map[string]any{"session": session}, http.StatusOK)
}

type completeSessionRequest struct {
	DurationActual *int   `json:"durationActual"`
	Notes          string `json:"notes"`
	LocalDate      string `json:"localDate"`
}

func (h *Handler) completeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req completeSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	in := stats.CompleteInput{Notes: req.Notes, LocalDate: req.LocalDate}
	if req.DurationActual != nil {
		in.DurationMinutes = *req.DurationActual
	}

	session, agg, err := h.svc.CompleteSession(r.Context(), GetUserID(r), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, map[string]any{
		"session": session,
		"stats":   domain.ReportFrom(agg),
	}, http.StatusOK)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Report(r.Context(), GetUserID(r), r.URL.Query().Get("today"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, map[string]any{"stats": report}, http.StatusOK)
}

func (h *Handler) reconcileStats(w http.ResponseWriter, r *http.Request) {
	agg, err := h.svc.Reconcile(r.Context(), GetUserID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, map[string]any{"stats": domain.ReportFrom(agg)}, http.StatusOK)
}
