package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/scan-orchestrator/internal/config"
	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/scheduler"
)

// forceReleaseMessage is written into a running job failed by the
// force-release endpoint. Dashboards match on this string.
const forceReleaseMessage = "Force released via API — stuck job detected"

// Server carries the state repositories the admin surface operates on.
type Server struct {
	cfg      config.Config
	tokens   *TokenIssuer
	queue    domain.JobQueue
	locks    domain.PlatformLock
	sched    domain.SchedulerState
	monitor  domain.MonitorState
	kills    domain.KillSwitch
	tasks    []config.MonitorTask
	validate *validator.Validate
}

// NewServer constructs the admin Server.
func NewServer(cfg config.Config, queue domain.JobQueue, locks domain.PlatformLock,
	sched domain.SchedulerState, monitor domain.MonitorState, kills domain.KillSwitch,
	tasks []config.MonitorTask) *Server {
	return &Server{
		cfg:      cfg,
		tokens:   NewTokenIssuer(cfg.AdminTokenSecret, 24*time.Hour),
		queue:    queue,
		locks:    locks,
		sched:    sched,
		monitor:  monitor,
		kills:    kills,
		tasks:    tasks,
		validate: validator.New(),
	}
}

// MountRoutes mounts the admin API under /admin. Everything except login
// sits behind the guard when credentials are configured.
func (s *Server) MountRoutes(r chi.Router) {
	r.Route("/admin", func(ar chi.Router) {
		ar.Post("/login", s.LoginHandler)

		ar.Group(func(protected chi.Router) {
			if s.cfg.AdminEnabled() {
				protected.Use(s.AdminGuard())
			}

			protected.Post("/scheduler/start", s.schedulerSetEnabled(true))
			protected.Post("/scheduler/stop", s.schedulerSetEnabled(false))
			protected.Get("/scheduler/status", s.SchedulerStatusHandler)

			protected.Post("/monitor/start", s.monitorSetEnabled(true))
			protected.Post("/monitor/stop", s.monitorSetEnabled(false))
			protected.Get("/monitor/status", s.MonitorStatusHandler)

			protected.Post("/jobs", s.CreateJobHandler)
			protected.Get("/jobs/running", s.RunningJobsHandler)
			protected.Get("/jobs/{id}", s.JobHandler)
			protected.Delete("/jobs/{id}", s.CancelJobHandler)

			protected.Get("/queues", s.QueuesHandler)
			protected.Get("/queues/{queue}/jobs", s.QueuedJobsHandler)
			protected.Post("/queues/{queue}/clear", s.ClearQueueHandler)

			protected.Post("/platforms/{platform}/force-release", s.ForceReleaseHandler)
			protected.Post("/workers/{platform}/restart", s.RestartWorkerHandler)
			protected.Get("/workers/status", s.WorkersStatusHandler)
		})
	})
}

// queueNames lists every queue the admin surface watches: one per platform
// plus one per monitor task.
func (s *Server) queueNames() []string {
	names := make([]string, 0, len(s.cfg.Platforms)+len(s.tasks))
	names = append(names, s.cfg.Platforms...)
	for _, t := range s.tasks {
		names = append(names, scheduler.MonitorQueue(s.cfg.MonitorQueuePrefix, t.ID))
	}
	return names
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginHandler exchanges admin credentials for a bearer token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AdminEnabled() {
		writeError(w, fmt.Errorf("%w: admin credentials not configured", domain.ErrInvalidArgument))
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, err.Error()))
		return
	}
	if req.Username != s.cfg.AdminUsername || !VerifyPassword(req.Password, s.cfg.AdminPassword) {
		writeError(w, errUnauthorized)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"token":      s.tokens.Issue(req.Username),
		"expires_in": int((24 * time.Hour).Seconds()),
	})
}

func (s *Server) schedulerSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sched.SetEnabled(r.Context(), enabled); err != nil {
			writeError(w, err)
			return
		}
		LoggerFrom(r).Info("scheduler enabled flag changed", "enabled", enabled)
		writeData(w, http.StatusOK, map[string]any{"enabled": enabled})
	}
}

func (s *Server) monitorSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.monitor.SetEnabled(r.Context(), enabled); err != nil {
			writeError(w, err)
			return
		}
		LoggerFrom(r).Info("monitor enabled flag changed", "enabled", enabled)
		writeData(w, http.StatusOK, map[string]any{"enabled": enabled})
	}
}

// SchedulerStatusHandler reports the scheduler flag, heartbeat, counters and
// the per-platform rotation state.
func (s *Server) SchedulerStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	enabled, err := s.sched.Enabled(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	heartbeat, err := s.sched.HeartbeatAt(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	scheduled, err := s.sched.ScheduledCount(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	lastEnqueue, err := s.sched.LastEnqueueAt(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	platforms := make([]map[string]any, 0, len(s.cfg.Platforms))
	for _, p := range s.cfg.Platforms {
		st, err := s.sched.PlatformState(ctx, p)
		if err != nil {
			writeError(w, err)
			return
		}
		length, err := s.queue.QueueLength(ctx, p)
		if err != nil {
			writeError(w, err)
			return
		}
		locked, err := s.locks.IsLocked(ctx, p)
		if err != nil {
			writeError(w, err)
			return
		}
		platforms = append(platforms, map[string]any{
			"platform":          p,
			"on_sale_counter":   st.OnSaleCounter,
			"last_completed_at": timeOrNil(st.LastCompletedAt),
			"queue_length":      length,
			"locked":            locked,
		})
	}

	writeData(w, http.StatusOK, map[string]any{
		"enabled":         enabled,
		"heartbeat_at":    timeOrNil(heartbeat),
		"scheduled_count": scheduled,
		"last_enqueue_at": timeOrNil(lastEnqueue),
		"platforms":       platforms,
	})
}

// MonitorStatusHandler reports the monitor flag, heartbeat and per-task
// completion state.
func (s *Server) MonitorStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	enabled, err := s.monitor.Enabled(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	heartbeat, err := s.monitor.HeartbeatAt(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	executed, err := s.monitor.ExecutedCount(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	tasks := make([]map[string]any, 0, len(s.tasks))
	for _, t := range s.tasks {
		completedAt, err := s.monitor.CompletedAt(ctx, t.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		eligible, err := s.monitor.IsCooldownComplete(ctx, t.ID, t.Interval)
		if err != nil {
			writeError(w, err)
			return
		}
		tasks = append(tasks, map[string]any{
			"task_id":      t.ID,
			"name":         t.Name,
			"interval":     t.Interval.String(),
			"completed_at": timeOrNil(completedAt),
			"eligible":     eligible,
		})
	}

	writeData(w, http.StatusOK, map[string]any{
		"enabled":        enabled,
		"heartbeat_at":   timeOrNil(heartbeat),
		"executed_count": executed,
		"tasks":          tasks,
	})
}

type createJobRequest struct {
	WorkflowID string                 `json:"workflow_id" validate:"required"`
	Platform   string                 `json:"platform" validate:"required"`
	Priority   int                    `json:"priority" validate:"gte=0,lte=100"`
	Params     map[string]interface{} `json:"params"`
}

// CreateJobHandler enqueues a manual job, e.g. a one-off rescan requested by
// an operator.
func (s *Server) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, err.Error()))
		return
	}
	priority := req.Priority
	if priority == 0 {
		priority = domain.PriorityDefault
	}
	job := domain.Job{
		ID:         domain.NewJobID(),
		WorkflowID: req.WorkflowID,
		Platform:   req.Platform,
		Priority:   priority,
		Status:     domain.JobPending,
		Params:     req.Params,
		CreatedAt:  time.Now(),
		Metadata:   map[string]interface{}{"source": "admin"},
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	LoggerFrom(r).Info("job enqueued via admin",
		"job_id", job.ID, "workflow_id", job.WorkflowID, "platform", job.Platform)
	writeData(w, http.StatusCreated, job)
}

// RunningJobsHandler lists the running job of every queue, with elapsed
// seconds so stuck jobs stand out.
func (s *Server) RunningJobsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	running := make([]map[string]any, 0)
	for _, name := range s.queueNames() {
		rj, err := s.locks.RunningJob(ctx, name)
		if err != nil {
			writeError(w, err)
			return
		}
		if rj == nil {
			continue
		}
		running = append(running, map[string]any{
			"platform":        name,
			"job_id":          rj.JobID,
			"workflow_id":     rj.WorkflowID,
			"started_at":      rj.StartedAt,
			"elapsed_seconds": int64(time.Since(rj.StartedAt).Seconds()),
		})
	}
	writeData(w, http.StatusOK, map[string]any{"running": running})
}

// JobHandler returns one job record.
func (s *Server) JobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeError(w, fmt.Errorf("%w: job not found", domain.ErrNotFound))
		return
	}
	writeData(w, http.StatusOK, job)
}

// CancelJobHandler cancels a pending job: it is removed from its queue and
// its record is rewritten with cancelled status. Running jobs are not
// cancellable here; use force-release on the platform instead.
func (s *Server) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	job, err := s.queue.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeError(w, fmt.Errorf("%w: job not found", domain.ErrNotFound))
		return
	}
	if job.Status != domain.JobPending {
		writeError(w, fmt.Errorf("%w: job is %s, only pending jobs can be cancelled", domain.ErrConflict, job.Status))
		return
	}
	if err := s.queue.Delete(ctx, job.ID); err != nil {
		writeError(w, err)
		return
	}
	now := time.Now()
	job.Status = domain.JobCancelled
	job.CompletedAt = &now
	if err := s.queue.Update(ctx, *job); err != nil {
		writeError(w, err)
		return
	}
	LoggerFrom(r).Info("job cancelled via admin", "job_id", job.ID)
	writeData(w, http.StatusOK, job)
}

// QueuesHandler reports the depth of every queue.
func (s *Server) QueuesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queues := make([]map[string]any, 0)
	for _, name := range s.queueNames() {
		length, err := s.queue.QueueLength(ctx, name)
		if err != nil {
			writeError(w, err)
			return
		}
		queues = append(queues, map[string]any{"queue": name, "length": length})
	}
	writeData(w, http.StatusOK, map[string]any{"queues": queues})
}

// QueuedJobsHandler lists pending jobs of one queue, highest priority first.
func (s *Server) QueuedJobsHandler(w http.ResponseWriter, r *http.Request) {
	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			writeError(w, fmt.Errorf("%w: invalid limit", domain.ErrInvalidArgument))
			return
		}
		limit = v
	}
	jobs, err := s.queue.QueuedJobs(r.Context(), chi.URLParam(r, "queue"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// ClearQueueHandler drops every pending job of one queue.
func (s *Server) ClearQueueHandler(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	count, err := s.queue.ClearQueue(r.Context(), queue)
	if err != nil {
		writeError(w, err)
		return
	}
	LoggerFrom(r).Warn("queue cleared via admin", "queue", queue, "removed", count)
	writeData(w, http.StatusOK, map[string]any{"queue": queue, "removed": count})
}

// ForceReleaseHandler frees a stuck platform: the running job, if any, is
// failed with a fixed message, the running-job record is cleared and the
// lock released. The scheduler resumes enqueuing on its next tick.
func (s *Server) ForceReleaseHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	platform := chi.URLParam(r, "platform")

	hadRunningJob := false
	rj, err := s.locks.RunningJob(ctx, platform)
	if err != nil {
		writeError(w, err)
		return
	}
	if rj != nil {
		hadRunningJob = true
		job, err := s.queue.Get(ctx, rj.JobID)
		if err != nil {
			writeError(w, err)
			return
		}
		if job != nil && !job.Status.Terminal() {
			now := time.Now()
			job.Status = domain.JobFailed
			job.CompletedAt = &now
			job.Error = &domain.JobError{Message: forceReleaseMessage, Timestamp: now}
			if err := s.queue.Update(ctx, *job); err != nil {
				writeError(w, err)
				return
			}
		}
		if err := s.locks.ClearRunningJob(ctx, platform); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.locks.Release(ctx, platform); err != nil {
		writeError(w, err)
		return
	}

	LoggerFrom(r).Warn("platform lock force released",
		"platform", platform, "had_running_job", hadRunningJob)
	writeData(w, http.StatusOK, map[string]any{
		"platform":        platform,
		"released":        true,
		"had_running_job": hadRunningJob,
		"message":         forceReleaseMessage,
	})
}

// RestartWorkerHandler sets the kill flag so the platform worker exits at
// its next safe point; the supervisor relaunches it.
func (s *Server) RestartWorkerHandler(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	if err := s.kills.Set(r.Context(), platform); err != nil {
		writeError(w, err)
		return
	}
	LoggerFrom(r).Info("worker restart requested", "platform", platform)
	writeData(w, http.StatusOK, map[string]any{
		"platform":      platform,
		"kill_flag_set": true,
		"flag_ttl":      s.cfg.KillFlagTTL.String(),
	})
}

// WorkersStatusHandler reports lock, running-job and kill-flag state per queue.
func (s *Server) WorkersStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workers := make([]map[string]any, 0)
	for _, name := range s.queueNames() {
		locked, err := s.locks.IsLocked(ctx, name)
		if err != nil {
			writeError(w, err)
			return
		}
		entry := map[string]any{"platform": name, "locked": locked}
		if locked {
			ttl, err := s.locks.TTL(ctx, name)
			if err != nil {
				writeError(w, err)
				return
			}
			entry["lock_ttl_seconds"] = int64(ttl.Seconds())
		}
		rj, err := s.locks.RunningJob(ctx, name)
		if err != nil {
			writeError(w, err)
			return
		}
		if rj != nil {
			entry["job_id"] = rj.JobID
			entry["elapsed_seconds"] = int64(time.Since(rj.StartedAt).Seconds())
		}
		killed, err := s.kills.IsSet(ctx, name)
		if err != nil {
			writeError(w, err)
			return
		}
		entry["kill_flag"] = killed
		workers = append(workers, entry)
	}
	writeData(w, http.StatusOK, map[string]any{"workers": workers})
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
