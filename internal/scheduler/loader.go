package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"eventletter/internal/models"
	"eventletter/internal/recurrence"
)

// Install derives a schedule's trigger and registers its job. Shared by
// the startup loader and the API create/update paths so both go through
// the same validation.
func Install(rt *Runtime, h *Handler, s *models.Schedule) error {
	cfg, err := recurrence.FromSchedule(s)
	if err != nil {
		return err
	}
	trigger, err := cfg.Trigger()
	if err != nil {
		return err
	}
	id := s.ID
	rt.Upsert(id, trigger, s.Name, func() { h.Run(id) })
	return nil
}

// LoadAll rebuilds the job table from persisted active schedules, run once
// at process start. A row whose recurrence no longer parses is logged and
// skipped; one bad schedule must not keep the rest from loading. Inactive
// schedules simply get no entry.
func LoadAll(ctx context.Context, store Store, rt *Runtime, h *Handler, log *zap.Logger) error {
	schedules, err := store.ListActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list active schedules: %w", err)
	}

	loaded := 0
	for i := range schedules {
		s := &schedules[i]
		if err := Install(rt, h, s); err != nil {
			log.Error("skipping schedule with invalid recurrence",
				zap.Int64("schedule_id", s.ID),
				zap.String("name", s.Name),
				zap.Error(err),
			)
			continue
		}
		loaded++
	}

	log.Info("active schedules loaded",
		zap.Int("loaded", loaded),
		zap.Int("total", len(schedules)),
	)
	return nil
}
