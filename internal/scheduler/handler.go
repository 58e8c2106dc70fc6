package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventletter/internal/metrics"
	"eventletter/internal/models"
)

// Store is the persistence surface the scheduling subsystem needs. Every
// call is a short-lived query; nothing here holds a session across
// occurrences.
type Store interface {
	ListActiveSchedules(ctx context.Context) ([]models.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (*models.Schedule, error)
	MarkLastRun(ctx context.Context, id int64, at time.Time) error
	AppendRunLog(ctx context.Context, entry *models.RunLog) error
}

// Pipeline delivers one newsletter occurrence. Per-recipient failures are
// aggregated into the result, never returned as an error.
type Pipeline interface {
	SendToAllActiveSubscribers(ctx context.Context) (models.CampaignResult, error)
	SendToSubscriberIDs(ctx context.Context, ids []int64) (models.CampaignResult, error)
}

// ErrScheduleNotFound is returned by RunManual for an unknown schedule id.
var ErrScheduleNotFound = errors.New("schedule not found")

// Handler is the callback bound to every fired trigger. It captures no
// schedule state: each occurrence re-fetches the row, so edits made after
// the job was installed take effect on the next fire.
type Handler struct {
	store    Store
	pipeline Pipeline
	log      *zap.Logger
	timeout  time.Duration
}

func NewHandler(store Store, pipeline Pipeline, timeout time.Duration, log *zap.Logger) *Handler {
	return &Handler{
		store:    store,
		pipeline: pipeline,
		log:      log,
		timeout:  timeout,
	}
}

// Run services one scheduled occurrence. It owns its context and reports
// failures only to the log: an occurrence that errors must not crash the
// runtime or deregister the job, and the next occurrence is still
// attempted.
func (h *Handler) Run(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.execute(ctx, id, false); err != nil {
		h.log.Error("scheduled newsletter run failed",
			zap.Int64("schedule_id", id),
			zap.Error(err),
		)
	}
}

// RunManual executes one occurrence out of band, independent of the
// installed trigger. It deliberately skips the is_active check: an admin
// pressing "run now" on a paused schedule gets a send, not a silent no-op.
func (h *Handler) RunManual(ctx context.Context, id int64) error {
	return h.execute(ctx, id, true)
}

func (h *Handler) execute(ctx context.Context, id int64, manual bool) error {
	sched, err := h.store.GetSchedule(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch schedule %d: %w", id, err)
	}
	if sched == nil {
		if manual {
			return ErrScheduleNotFound
		}
		metrics.ScheduleSkips.Inc()
		h.log.Info("schedule gone, skipping occurrence", zap.Int64("schedule_id", id))
		return nil
	}
	if !sched.IsActive && !manual {
		metrics.ScheduleSkips.Inc()
		h.log.Info("schedule inactive, skipping occurrence",
			zap.Int64("schedule_id", id),
			zap.String("name", sched.Name),
		)
		return nil
	}

	now := time.Now().UTC()
	if err := h.store.MarkLastRun(ctx, id, now); err != nil {
		return fmt.Errorf("mark last run for schedule %d: %w", id, err)
	}

	metrics.ScheduleFires.Inc()
	h.log.Info("running scheduled newsletter",
		zap.Int64("schedule_id", id),
		zap.String("name", sched.Name),
		zap.Bool("manual", manual),
	)

	start := time.Now()
	var result models.CampaignResult
	if len(sched.UserIDs) > 0 {
		result, err = h.pipeline.SendToSubscriberIDs(ctx, sched.UserIDs)
	} else {
		result, err = h.pipeline.SendToAllActiveSubscribers(ctx)
	}
	if err != nil {
		return fmt.Errorf("send newsletter for schedule %d: %w", id, err)
	}

	entry := &models.RunLog{
		ScheduleID:      &id,
		SentAt:          now,
		TotalUsers:      result.Total,
		SuccessfulSends: result.Sent,
		FailedSends:     result.Failed,
		DurationSeconds: time.Since(start).Seconds(),
	}
	if err := h.store.AppendRunLog(ctx, entry); err != nil {
		return fmt.Errorf("append run log for schedule %d: %w", id, err)
	}

	h.log.Info("scheduled newsletter completed",
		zap.Int64("schedule_id", id),
		zap.Int("total", result.Total),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Float64("duration_seconds", entry.DurationSeconds),
	)
	return nil
}
