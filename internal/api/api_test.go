package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eventletter/internal/models"
	"eventletter/internal/scheduler"
)

type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	schedules map[int64]*models.Schedule
	logs      []models.RunLog
	lastRun   map[int64]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		schedules: make(map[int64]*models.Schedule),
		lastRun:   make(map[int64]time.Time),
	}
}

func (f *fakeStore) ListSchedules(ctx context.Context, limit, offset int) ([]models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Schedule
	for _, s := range f.schedules {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) ListActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeStore) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sched.ID = f.nextID
	sched.CreatedAt = time.Now().UTC()
	copied := *sched
	f.schedules[sched.ID] = &copied
	return nil
}

func (f *fakeStore) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *sched
	f.schedules[sched.ID] = &copied
	return nil
}

func (f *fakeStore) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schedules[id]; !ok {
		return false, nil
	}
	delete(f.schedules, id)
	return true, nil
}

func (f *fakeStore) MarkLastRun(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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

func (f *fakeStore) ListRunLogs(ctx context.Context, limit int) ([]models.RunLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RunLog(nil), f.logs...), nil
}

type fakePipeline struct {
	mu       sync.Mutex
	allCalls int
	idCalls  [][]int64
	result   models.CampaignResult
}

func (f *fakePipeline) SendToAllActiveSubscribers(ctx context.Context) (models.CampaignResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	return f.result, nil
}

func (f *fakePipeline) SendToSubscriberIDs(ctx context.Context, ids []int64) (models.CampaignResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls = append(f.idCalls, ids)
	return f.result, nil
}

type testAPI struct {
	mux      *http.ServeMux
	store    *fakeStore
	pipeline *fakePipeline
	runtime  *scheduler.Runtime
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := newFakeStore()
	pipeline := &fakePipeline{result: models.CampaignResult{Total: 4, Sent: 3, Failed: 1}}

	runtime := scheduler.NewRuntime(zap.NewNop())
	runtime.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = runtime.Stop(ctx)
	})

	exec := scheduler.NewHandler(store, pipeline, time.Minute, zap.NewNop())

	h := &Handler{
		Store:           store,
		Runtime:         runtime,
		Exec:            exec,
		Pipeline:        pipeline,
		Log:             zap.NewNop(),
		DefaultTimezone: "UTC",
	}
	mux := http.NewServeMux()
	h.Register(mux)

	return &testAPI{mux: mux, store: store, pipeline: pipeline, runtime: runtime}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decodeSchedule(t *testing.T, rec *httptest.ResponseRecorder) models.Schedule {
	t.Helper()
	var sched models.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sched))
	return sched
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func weeklyPayload(active bool) map[string]interface{} {
	return map[string]interface{}{
		"name":      "Monday digest",
		"is_active": active,
		"schedule_config": map[string]interface{}{
			"periodicity": "weekly",
			"days":        []int{1},
			"hour":        10,
			"minute":      0,
		},
		"admin_timezone": "UTC",
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]interface{}
		wantIn string
	}{
		{
			name:   "weekly missing days",
			config: map[string]interface{}{"periodicity": "weekly", "hour": 9},
			wantIn: "days",
		},
		{
			name:   "date missing datetime",
			config: map[string]interface{}{"periodicity": "date"},
			wantIn: "datetime",
		},
		{
			name: "conflicting days and days_interval",
			config: map[string]interface{}{
				"periodicity":   "interval",
				"days":          []int{1, 2},
				"days_interval": 3,
			},
			wantIn: "days",
		},
		{
			name:   "unknown periodicity",
			config: map[string]interface{}{"periodicity": "lunar"},
			wantIn: "periodicity",
		},
		{
			name:   "unknown timezone",
			config: map[string]interface{}{"periodicity": "weekly", "days": []int{1}, "timezone": "Moon/Farside"},
			wantIn: "timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			rec := api.do(t, http.MethodPost, "/schedules", map[string]interface{}{
				"name":            tt.name,
				"is_active":       true,
				"schedule_config": tt.config,
				"admin_timezone":  "UTC",
			})
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, decodeDetail(t, rec), tt.wantIn)
			assert.Empty(t, api.store.schedules, "nothing is persisted on validation failure")
		})
	}
}

func TestCreateWeeklySchedule(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/schedules", weeklyPayload(true))
	require.Equal(t, http.StatusCreated, rec.Code)

	sched := decodeSchedule(t, rec)
	require.NotZero(t, sched.ID)
	require.NotNil(t, sched.NextRunTime, "response carries the computed next fire time")

	next := sched.NextRunTime.UTC()
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 10, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestCreateInactiveScheduleHasNoJob(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/schedules", weeklyPayload(false))
	require.Equal(t, http.StatusCreated, rec.Code)

	sched := decodeSchedule(t, rec)
	assert.Nil(t, sched.NextRunTime)
	_, ok := api.runtime.NextRun(sched.ID)
	assert.False(t, ok)
}

func TestDeactivateAndReactivate(t *testing.T) {
	api := newTestAPI(t)

	created := decodeSchedule(t, api.do(t, http.MethodPost, "/schedules", weeklyPayload(true)))
	require.NotNil(t, created.NextRunTime)

	rec := api.do(t, http.MethodPut, "/schedules/1", map[string]interface{}{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeSchedule(t, rec).NextRunTime)

	_, ok := api.runtime.NextRun(1)
	assert.False(t, ok, "deactivation removes the job")

	// The row survives deactivation.
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/schedules/1", nil).Code)

	rec = api.do(t, http.MethodPut, "/schedules/1", map[string]interface{}{"is_active": true})
	require.Equal(t, http.StatusOK, rec.Code)
	reactivated := decodeSchedule(t, rec)
	require.NotNil(t, reactivated.NextRunTime)
	assert.Equal(t, time.Monday, reactivated.NextRunTime.UTC().Weekday())
	assert.Equal(t, 10, reactivated.NextRunTime.UTC().Hour())
}

func TestUpdateScheduleValidation(t *testing.T) {
	api := newTestAPI(t)

	created := decodeSchedule(t, api.do(t, http.MethodPost, "/schedules", weeklyPayload(true)))

	rec := api.do(t, http.MethodPut, "/schedules/1", map[string]interface{}{
		"schedule_config": map[string]interface{}{"periodicity": "weekly"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "days")

	// The previous job survives a rejected update.
	next, ok := api.runtime.NextRun(created.ID)
	require.True(t, ok)
	assert.True(t, next.Equal(created.NextRunTime.UTC()))
}

func TestDeleteSchedule(t *testing.T) {
	api := newTestAPI(t)

	api.do(t, http.MethodPost, "/schedules", weeklyPayload(true))

	rec := api.do(t, http.MethodDelete, "/schedules/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := api.runtime.NextRun(1)
	assert.False(t, ok)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/schedules/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodDelete, "/schedules/1", nil).Code)
}

func TestRunNowExecutesInactiveSchedule(t *testing.T) {
	api := newTestAPI(t)

	api.do(t, http.MethodPost, "/schedules", weeklyPayload(false))

	rec := api.do(t, http.MethodPost, "/schedules/1/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, api.pipeline.allCalls, "run-now bypasses the is_active check")
	require.Len(t, api.store.logs, 1)
	require.NotNil(t, api.store.logs[0].ScheduleID)
	assert.Equal(t, int64(1), *api.store.logs[0].ScheduleID)
}

func TestRunNowUnknownSchedule(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/schedules/99/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendNewsletterCampaign(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/newsletter/send", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.CampaignResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 3, result.Sent)

	require.Len(t, api.store.logs, 1)
	assert.Nil(t, api.store.logs[0].ScheduleID, "manual campaigns log without a schedule id")
}

func TestListRunLogs(t *testing.T) {
	api := newTestAPI(t)

	api.do(t, http.MethodPost, "/newsletter/send", nil)

	rec := api.do(t, http.MethodGet, "/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var logs []models.RunLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	assert.Len(t, logs, 1)
}
