package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"eventletter/internal/models"
	"eventletter/internal/recurrence"
	"eventletter/internal/scheduler"
)

// Store is the persistence surface the API needs; *db.Store satisfies it.
type Store interface {
	ListSchedules(ctx context.Context, limit, offset int) ([]models.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	CreateSchedule(ctx context.Context, sched *models.Schedule) error
	UpdateSchedule(ctx context.Context, sched *models.Schedule) error
	DeleteSchedule(ctx context.Context, id int64) (bool, error)
	AppendRunLog(ctx context.Context, entry *models.RunLog) error
	ListRunLogs(ctx context.Context, limit int) ([]models.RunLog, error)
}

type Handler struct {
	Store    Store
	Runtime  *scheduler.Runtime
	Exec     *scheduler.Handler
	Pipeline scheduler.Pipeline
	Log      *zap.Logger

	// DefaultTimezone fills admin_timezone when a payload omits it.
	DefaultTimezone string
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /schedules", h.ListSchedules)
	mux.HandleFunc("POST /schedules", h.CreateSchedule)
	mux.HandleFunc("GET /schedules/{id}", h.GetSchedule)
	mux.HandleFunc("PUT /schedules/{id}", h.UpdateSchedule)
	mux.HandleFunc("DELETE /schedules/{id}", h.DeleteSchedule)
	mux.HandleFunc("POST /schedules/{id}/run", h.RunScheduleNow)
	mux.HandleFunc("POST /newsletter/send", h.SendNewsletter)
	mux.HandleFunc("GET /logs", h.ListRunLogs)
}

// SendNewsletter fires an out-of-band campaign for every active
// subscriber and records a run log with no schedule id.
func (h *Handler) SendNewsletter(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result, err := h.Pipeline.SendToAllActiveSubscribers(r.Context())
	if err != nil {
		h.Log.Error("manual newsletter campaign failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "newsletter campaign failed")
		return
	}

	entry := &models.RunLog{
		SentAt:          start.UTC(),
		TotalUsers:      result.Total,
		SuccessfulSends: result.Sent,
		FailedSends:     result.Failed,
		DurationSeconds: time.Since(start).Seconds(),
	}
	if err := h.Store.AppendRunLog(r.Context(), entry); err != nil {
		h.Log.Error("failed to append run log", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ListRunLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	logs, err := h.Store.ListRunLogs(r.Context(), limit)
	if err != nil {
		h.Log.Error("failed to list run logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list run logs")
		return
	}
	if logs == nil {
		logs = []models.RunLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// ----------------------------
// Helpers
// ----------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeConfigError maps recurrence validation failures to 422 with the
// offending field named in the message; anything else is a bad request.
func writeConfigError(w http.ResponseWriter, err error) {
	var cfgErr *recurrence.ConfigError
	if errors.As(err, &cfgErr) {
		writeError(w, http.StatusUnprocessableEntity, cfgErr.Reason)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func scheduleID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
