package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	redisstore "github.com/fairyhunter13/scan-orchestrator/internal/adapter/store/redis"
	"github.com/fairyhunter13/scan-orchestrator/internal/config"
	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

type testRepos struct {
	queue   *redisstore.JobQueue
	locks   *redisstore.PlatformLock
	sched   *redisstore.SchedulerState
	monitor *redisstore.MonitorState
	kills   *redisstore.KillSwitch
}

func newTestServer(t *testing.T) (*Server, testRepos) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := redisstore.NewStoreWithClient(rdb)
	repos := testRepos{
		queue:   redisstore.NewJobQueue(store),
		locks:   redisstore.NewPlatformLock(store, 2*time.Hour),
		sched:   redisstore.NewSchedulerState(store),
		monitor: redisstore.NewMonitorState(store),
		kills:   redisstore.NewKillSwitch(store, 60*time.Second),
	}
	cfg := config.Config{
		Platforms:          []string{"coupang", "gmarket"},
		MonitorQueuePrefix: "monitor",
		KillFlagTTL:        60 * time.Second,
	}
	tasks := []config.MonitorTask{{ID: "banner-check", Name: "Banner Check", Interval: time.Hour}}
	srv := NewServer(cfg, repos.queue, repos.locks, repos.sched, repos.monitor, repos.kills, tasks)
	return srv, repos
}

func testRouter(srv *Server) http.Handler {
	r := chi.NewRouter()
	srv.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSchedulerStartStop(t *testing.T) {
	srv, store := newTestServer(t)
	h := testRouter(srv)
	ctx := t.Context()

	rec, out := doJSON(t, h, http.MethodPost, "/admin/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, out["success"])

	enabled, err := store.sched.Enabled(ctx)
	require.NoError(t, err)
	require.False(t, enabled)

	rec, _ = doJSON(t, h, http.MethodPost, "/admin/scheduler/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	enabled, err = store.sched.Enabled(ctx)
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestSchedulerStatus(t *testing.T) {
	srv, store := newTestServer(t)
	h := testRouter(srv)
	ctx := t.Context()

	require.NoError(t, store.sched.Heartbeat(ctx))
	require.NoError(t, store.sched.IncrementScheduled(ctx))

	rec, out := doJSON(t, h, http.MethodGet, "/admin/scheduler/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	require.Equal(t, true, data["enabled"])
	require.EqualValues(t, 1, data["scheduled_count"])
	require.Len(t, data["platforms"], 2)
}

func TestMonitorStatusListsTasks(t *testing.T) {
	srv, _ := newTestServer(t)
	h := testRouter(srv)

	rec, out := doJSON(t, h, http.MethodGet, "/admin/monitor/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	tasks := data["tasks"].([]any)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	require.Equal(t, "banner-check", task["task_id"])
	require.Equal(t, true, task["eligible"])
}

func TestCreateAndGetJob(t *testing.T) {
	srv, store := newTestServer(t)
	h := testRouter(srv)

	rec, out := doJSON(t, h, http.MethodPost, "/admin/jobs", map[string]any{
		"workflow_id": "coupang-update-v2",
		"platform":    "coupang",
		"params":      map[string]any{"limit": 100},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := out["data"].(map[string]any)
	jobID := data["job_id"].(string)
	require.NotEmpty(t, jobID)
	require.Equal(t, "pending", data["status"])

	length, err := store.queue.QueueLength(t.Context(), "coupang")
	require.NoError(t, err)
	require.EqualValues(t, 1, length)

	rec, out = doJSON(t, h, http.MethodGet, "/admin/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, jobID, out["data"].(map[string]any)["job_id"])
}

func TestCreateJobValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := testRouter(srv)

	rec, out := doJSON(t, h, http.MethodPost, "/admin/jobs", map[string]any{
		"platform": "coupang",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, false, out["success"])
	require.Equal(t, "INVALID_ARGUMENT", out["error"])
}

func TestCancelPendingJob(t *testing.T) {
	srv, store := newTestServer(t)
	h := testRouter(srv)
	ctx := t.Context()

	job := domain.Job{
		ID:         domain.NewJobID(),
		WorkflowID: "coupang-update-v2",
		Platform:   "coupang",
		Priority:   domain.PriorityDefault,
		Status:     domain.JobPending,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.queue.Enqueue(ctx, job))

	rec, out := doJSON(t, h, http.MethodDelete, "/admin/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cancelled", out["data"].(map[string]any)["status"])

	length, err := store.queue.QueueLength(ctx, "coupang")
	require.NoError(t, err)
	require.Zero(t, length)
}

func TestForceReleaseWithRunningJob(t *testing.T) {
	srv, store := newTestServer(t)
	h := testRouter(srv)
	ctx := t.Context()

	job := domain.Job{
		ID:         domain.NewJobID(),
		WorkflowID: "coupang-update-v2",
		Platform:   "coupang",
		Status:     domain.JobRunning,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.queue.Update(ctx, job))
	acquired, err := store.locks.Acquire(ctx, "coupang")
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, store.locks.SetRunningJob(ctx, "coupang", domain.RunningJob{
		JobID: job.ID, WorkflowID: job.WorkflowID, StartedAt: time.Now().Add(-time.Hour),
	}))

	rec, out := doJSON(t, h, http.MethodPost, "/admin/platforms/coupang/force-release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]any)
	require.Equal(t, true, data["had_running_job"])
	require.Equal(t, forceReleaseMessage, data["message"])

	locked, err := store.locks.IsLocked(ctx, "coupang")
	require.NoError(t, err)
	require.False(t, locked)

	got, err := store.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, domain.JobFailed, got.Status)
	require.Equal(t, forceReleaseMessage, got.Error.Message)
}

func TestForceReleaseWithoutRunningJob(t *testing.T) {
	srv, _ := newTestServer(t)
	h := testRouter(srv)

	rec, out := doJSON(t, h, http.MethodPost, "/admin/platforms/gmarket/force-release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, out["data"].(map[string]any)["had_running_job"])
}

func TestRestartWorkerSetsKillFlag(t *testing.T) {
	srv, store := newTestServer(t)
	h := testRouter(srv)

	rec, out := doJSON(t, h, http.MethodPost, "/admin/workers/coupang/restart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, out["data"].(map[string]any)["kill_flag_set"])

	set, err := store.kills.IsSet(t.Context(), "coupang")
	require.NoError(t, err)
	require.True(t, set)
}

func TestQueuesAndClear(t *testing.T) {
	srv, store := newTestServer(t)
	h := testRouter(srv)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.queue.Enqueue(ctx, domain.Job{
			ID:         domain.NewJobID(),
			WorkflowID: "coupang-update-v2",
			Platform:   "coupang",
			Priority:   domain.PriorityDefault,
			Status:     domain.JobPending,
			CreatedAt:  time.Now(),
		}))
	}

	rec, out := doJSON(t, h, http.MethodGet, "/admin/queues", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queues := out["data"].(map[string]any)["queues"].([]any)
	// two platforms plus one monitor queue
	require.Len(t, queues, 3)

	rec, out = doJSON(t, h, http.MethodPost, "/admin/queues/coupang/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 3, out["data"].(map[string]any)["removed"])
}

func TestWorkersStatus(t *testing.T) {
	srv, store := newTestServer(t)
	h := testRouter(srv)
	ctx := t.Context()

	acquired, err := store.locks.Acquire(ctx, "coupang")
	require.NoError(t, err)
	require.True(t, acquired)

	rec, out := doJSON(t, h, http.MethodGet, "/admin/workers/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	workers := out["data"].(map[string]any)["workers"].([]any)
	require.Len(t, workers, 3)
	first := workers[0].(map[string]any)
	require.Equal(t, "coupang", first["platform"])
	require.Equal(t, true, first["locked"])
}
