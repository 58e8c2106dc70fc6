package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runtime is the live job table: one cron engine plus a schedule-id to
// entry mapping. It is owned by the composition root and shared between
// the startup loader and the API handlers; all methods are safe to call
// concurrently with the engine's own firing activity.
type Runtime struct {
	log  *zap.Logger
	cron *cron.Cron

	mu      sync.Mutex
	entries map[int64]cron.EntryID
}

func NewRuntime(log *zap.Logger) *Runtime {
	cl := cronLogger{log: log.Named("cron")}
	return &Runtime{
		log: log,
		// Each job is wrapped individually, so SkipIfStillRunning gives
		// at-most-one-concurrent-occurrence per schedule while different
		// schedules still fire in parallel. Overlapping occurrences of one
		// schedule are skipped, not queued.
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		entries: make(map[int64]cron.EntryID),
	}
}

// Upsert installs or atomically replaces the job for a schedule. The
// previous trigger, if any, is cancelled before the new one is added.
func (r *Runtime) Upsert(id int64, trigger cron.Schedule, name string, run func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eid, ok := r.entries[id]; ok {
		r.cron.Remove(eid)
	}
	r.entries[id] = r.cron.Schedule(trigger, cron.FuncJob(run))
	r.log.Info("schedule job installed",
		zap.Int64("schedule_id", id),
		zap.String("name", name),
	)
}

// Remove cancels and discards the schedule's job. Removing an absent id is
// a no-op. An occurrence already in flight runs to completion, but no new
// one starts afterwards.
func (r *Runtime) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	eid, ok := r.entries[id]
	if !ok {
		return
	}
	r.cron.Remove(eid)
	delete(r.entries, id)
	r.log.Info("schedule job removed", zap.Int64("schedule_id", id))
}

// NextRun reports the next firing instant for a schedule. It returns false
// when no job is installed or the job has no future occurrence, such as an
// exhausted one-shot.
func (r *Runtime) NextRun(id int64) (time.Time, bool) {
	r.mu.Lock()
	eid, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	entry := r.cron.Entry(eid)
	if !entry.Valid() || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Start begins evaluating triggers.
func (r *Runtime) Start() {
	r.cron.Start()
	r.log.Info("scheduler runtime started")
}

// Stop cancels all pending evaluations and waits for in-flight jobs to
// finish, up to the deadline on ctx.
func (r *Runtime) Stop(ctx context.Context) error {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		r.log.Info("scheduler runtime stopped")
		return nil
	case <-ctx.Done():
		r.log.Warn("scheduler runtime stop timed out with jobs in flight")
		return ctx.Err()
	}
}

// cronLogger adapts the cron engine's logging onto zap. The engine is
// chatty at info level, so its progress messages land at debug.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
