package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"eventletter/internal/models"
	"eventletter/internal/recurrence"
	"eventletter/internal/scheduler"
)

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "skip", 0)

	schedules, err := h.Store.ListSchedules(r.Context(), limit, offset)
	if err != nil {
		h.Log.Error("failed to list schedules", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}

	for i := range schedules {
		h.attachNextRun(&schedules[i])
	}
	if schedules == nil {
		schedules = []models.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := scheduleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	sched, err := h.Store.GetSchedule(r.Context(), id)
	if err != nil {
		h.Log.Error("failed to fetch schedule", zap.Int64("schedule_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch schedule")
		return
	}
	if sched == nil {
		writeError(w, http.StatusNotFound, "Schedule not found")
		return
	}

	h.attachNextRun(sched)
	writeJSON(w, http.StatusOK, sched)
}

// CreateSchedule validates the recurrence before anything is persisted: a
// bad configuration is rejected synchronously, never silently defaulted.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sched.ID = 0
	sched.LastRun = nil
	if sched.AdminTimezone == "" {
		sched.AdminTimezone = h.DefaultTimezone
	}

	if err := validateRecurrence(&sched); err != nil {
		writeConfigError(w, err)
		return
	}

	if err := h.Store.CreateSchedule(r.Context(), &sched); err != nil {
		h.Log.Error("failed to create schedule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	if sched.IsActive {
		h.install(&sched)
	}

	h.attachNextRun(&sched)
	writeJSON(w, http.StatusCreated, &sched)
}

// UpdateSchedule applies a partial update, then atomically replaces the
// job table entry: the old trigger is always removed, and a new one is
// installed only when the schedule remains active.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := scheduleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	sched, err := h.Store.GetSchedule(r.Context(), id)
	if err != nil {
		h.Log.Error("failed to fetch schedule", zap.Int64("schedule_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch schedule")
		return
	}
	if sched == nil {
		writeError(w, http.StatusNotFound, "Schedule not found")
		return
	}

	var patch scheduleUpdate
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	patch.apply(sched)

	if err := validateRecurrence(sched); err != nil {
		writeConfigError(w, err)
		return
	}

	if err := h.Store.UpdateSchedule(r.Context(), sched); err != nil {
		h.Log.Error("failed to update schedule", zap.Int64("schedule_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}

	h.Runtime.Remove(id)
	if sched.IsActive {
		h.install(sched)
	}

	h.attachNextRun(sched)
	writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := scheduleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	// Job first, row second: a trigger must never outlive its schedule.
	h.Runtime.Remove(id)

	found, err := h.Store.DeleteSchedule(r.Context(), id)
	if err != nil {
		h.Log.Error("failed to delete schedule", zap.Int64("schedule_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Schedule not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Schedule deleted successfully"})
}

// RunScheduleNow executes one occurrence immediately, outside the
// installed recurrence. The inactive check is bypassed on purpose.
func (h *Handler) RunScheduleNow(w http.ResponseWriter, r *http.Request) {
	id, err := scheduleID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	if err := h.Exec.RunManual(r.Context(), id); err != nil {
		if errors.Is(err, scheduler.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "Schedule not found")
			return
		}
		h.Log.Error("manual schedule run failed", zap.Int64("schedule_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "manual schedule run failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Schedule started manually"})
}

// validateRecurrence walks the full parse-and-build path without touching
// the job table, so create/update reject exactly what Install would.
func validateRecurrence(sched *models.Schedule) error {
	cfg, err := recurrence.FromSchedule(sched)
	if err != nil {
		return err
	}
	_, err = cfg.Trigger()
	return err
}

func (h *Handler) install(sched *models.Schedule) {
	// Validation already passed, so a failure here is a scheduling fault:
	// logged, and the schedule is left without a live job.
	if err := scheduler.Install(h.Runtime, h.Exec, sched); err != nil {
		h.Log.Error("failed to install schedule job",
			zap.Int64("schedule_id", sched.ID),
			zap.Error(err),
		)
	}
}

func (h *Handler) attachNextRun(sched *models.Schedule) {
	if next, ok := h.Runtime.NextRun(sched.ID); ok {
		sched.NextRunTime = &next
	} else {
		sched.NextRunTime = nil
	}
}

// scheduleUpdate is the partial-update payload: only fields present in
// the request body are applied.
type scheduleUpdate struct {
	Name           *string                `json:"name"`
	Description    *string                `json:"description"`
	UserIDs        *[]int64               `json:"user_ids"`
	ScheduleType   *string                `json:"schedule_type"`
	CronExpression *string                `json:"cron_expression"`
	SpecificDate   *time.Time             `json:"specific_date"`
	Config         *models.ScheduleConfig `json:"schedule_config"`
	IsActive       *bool                  `json:"is_active"`
	AdminTimezone  *string                `json:"admin_timezone"`
}

func (p *scheduleUpdate) apply(sched *models.Schedule) {
	if p.Name != nil {
		sched.Name = *p.Name
	}
	if p.Description != nil {
		sched.Description = *p.Description
	}
	if p.UserIDs != nil {
		sched.UserIDs = *p.UserIDs
	}
	if p.ScheduleType != nil {
		sched.ScheduleType = *p.ScheduleType
	}
	if p.CronExpression != nil {
		sched.CronExpression = *p.CronExpression
	}
	if p.SpecificDate != nil {
		sched.SpecificDate = p.SpecificDate
	}
	if p.Config != nil {
		sched.Config = p.Config
	}
	if p.IsActive != nil {
		sched.IsActive = *p.IsActive
	}
	if p.AdminTimezone != nil {
		sched.AdminTimezone = *p.AdminTimezone
	}
}
