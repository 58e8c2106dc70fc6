package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eventletter/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	schedules map[int64]*models.Schedule
	lastRun   map[int64]time.Time
	logs      []models.RunLog

	listErr error
	markErr error
}

func newFakeStore(schedules ...*models.Schedule) *fakeStore {
	f := &fakeStore{
		schedules: make(map[int64]*models.Schedule),
		lastRun:   make(map[int64]time.Time),
	}
	for _, s := range schedules {
		f.schedules[s.ID] = s
	}
	return f
}

func (f *fakeStore) ListActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Schedule
	for _, s := range f.schedules {
		if s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) MarkLastRun(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.lastRun[id] = at
	return nil
}

func (f *fakeStore) AppendRunLog(ctx context.Context, entry *models.RunLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.logs) + 1)
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeStore) runLogs() []models.RunLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RunLog(nil), f.logs...)
}

type fakePipeline struct {
	mu       sync.Mutex
	allCalls int
	idCalls  [][]int64
	result   models.CampaignResult
	err      error
}

func (f *fakePipeline) SendToAllActiveSubscribers(ctx context.Context) (models.CampaignResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	return f.result, f.err
}

func (f *fakePipeline) SendToSubscriberIDs(ctx context.Context, ids []int64) (models.CampaignResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls = append(f.idCalls, ids)
	return f.result, f.err
}

func (f *fakePipeline) calls() (int, [][]int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allCalls, f.idCalls
}

func newTestHandler(store *fakeStore, pipeline *fakePipeline) *Handler {
	return NewHandler(store, pipeline, time.Minute, zap.NewNop())
}

func TestRunSkipsInactiveSchedule(t *testing.T) {
	store := newFakeStore(&models.Schedule{ID: 1, Name: "paused", IsActive: false})
	pipeline := &fakePipeline{}
	h := newTestHandler(store, pipeline)

	h.Run(1)

	all, ids := pipeline.calls()
	assert.Zero(t, all)
	assert.Empty(t, ids)
	assert.Empty(t, store.runLogs())
	assert.NotContains(t, store.lastRun, int64(1))
}

func TestRunSkipsMissingSchedule(t *testing.T) {
	store := newFakeStore()
	pipeline := &fakePipeline{}
	h := newTestHandler(store, pipeline)

	h.Run(99)

	all, ids := pipeline.calls()
	assert.Zero(t, all)
	assert.Empty(t, ids)
	assert.Empty(t, store.runLogs())
}

func TestRunAllSubscribers(t *testing.T) {
	store := newFakeStore(&models.Schedule{ID: 1, Name: "weekly", IsActive: true})
	pipeline := &fakePipeline{result: models.CampaignResult{Total: 10, Sent: 8, Failed: 2}}
	h := newTestHandler(store, pipeline)

	h.Run(1)

	all, ids := pipeline.calls()
	assert.Equal(t, 1, all)
	assert.Empty(t, ids)

	logs := store.runLogs()
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ScheduleID)
	assert.Equal(t, int64(1), *logs[0].ScheduleID)
	assert.Equal(t, 10, logs[0].TotalUsers)
	assert.Equal(t, 8, logs[0].SuccessfulSends)
	assert.Equal(t, 2, logs[0].FailedSends)

	assert.Contains(t, store.lastRun, int64(1), "last_run is recorded when the occurrence starts")
}

func TestRunTargetedSubscribers(t *testing.T) {
	store := newFakeStore(&models.Schedule{ID: 2, Name: "targeted", IsActive: true, UserIDs: []int64{5, 6}})
	pipeline := &fakePipeline{result: models.CampaignResult{Total: 2, Sent: 2}}
	h := newTestHandler(store, pipeline)

	h.Run(2)

	all, ids := pipeline.calls()
	assert.Zero(t, all)
	require.Len(t, ids, 1)
	assert.Equal(t, []int64{5, 6}, ids[0])
}

func TestRunManualBypassesInactiveCheck(t *testing.T) {
	store := newFakeStore(&models.Schedule{ID: 1, Name: "paused", IsActive: false})
	pipeline := &fakePipeline{result: models.CampaignResult{Total: 3, Sent: 3}}
	h := newTestHandler(store, pipeline)

	require.NoError(t, h.RunManual(context.Background(), 1))

	all, _ := pipeline.calls()
	assert.Equal(t, 1, all, "run-now executes even for an inactive schedule")
	assert.Len(t, store.runLogs(), 1, "exactly one run-log row per manual run")
}

func TestRunManualMissingSchedule(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakePipeline{})

	err := h.RunManual(context.Background(), 404)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestRunAbortsWhenLastRunUpdateFails(t *testing.T) {
	store := newFakeStore(&models.Schedule{ID: 1, Name: "weekly", IsActive: true})
	store.markErr = errors.New("connection reset")
	pipeline := &fakePipeline{}
	h := newTestHandler(store, pipeline)

	err := h.RunManual(context.Background(), 1)
	require.Error(t, err)

	all, ids := pipeline.calls()
	assert.Zero(t, all)
	assert.Empty(t, ids)
	assert.Empty(t, store.runLogs(), "an aborted occurrence writes no run log")
}

func TestRunPipelineErrorWritesNoRunLog(t *testing.T) {
	store := newFakeStore(&models.Schedule{ID: 1, Name: "weekly", IsActive: true})
	pipeline := &fakePipeline{err: errors.New("storage unavailable")}
	h := newTestHandler(store, pipeline)

	err := h.RunManual(context.Background(), 1)
	require.Error(t, err)
	assert.Empty(t, store.runLogs())
}
