// Package worker implements the per-platform job execution loop.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/workflow"
)

// Options configures a worker loop.
type Options struct {
	// Queue is the queue this worker consumes; for platform workers it is
	// the platform name, for monitor workers the monitor task queue.
	Queue string
	// Platform is the platform whose completion state is updated on finish.
	// Empty for monitor workers, whose completion is written by a node.
	Platform string

	IdleSleep      time.Duration
	LockRetrySleep time.Duration
}

// Worker consumes one queue under the platform lock: acquire, dequeue,
// execute, release, repeat. It observes the kill flag at every safe point
// and exits when it is raised; the supervisor restarts the process.
type Worker struct {
	opts   Options
	queue  domain.JobQueue
	lock   domain.PlatformLock
	kill   domain.KillSwitch
	sched  domain.SchedulerState
	events domain.EventPublisher
	engine *workflow.Engine
	logger *slog.Logger
}

// New constructs a Worker. sched and events may be nil.
func New(opts Options, queue domain.JobQueue, lock domain.PlatformLock, kill domain.KillSwitch, sched domain.SchedulerState, events domain.EventPublisher, engine *workflow.Engine, logger *slog.Logger) *Worker {
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = 3 * time.Second
	}
	if opts.LockRetrySleep <= 0 {
		opts.LockRetrySleep = 2 * time.Second
	}
	return &Worker{
		opts:   opts,
		queue:  queue,
		lock:   lock,
		kill:   kill,
		sched:  sched,
		events: events,
		engine: engine,
		logger: logger.With(slog.String("component", "worker"), slog.String("queue", opts.Queue)),
	}
}

// Run executes the worker loop until ctx is cancelled or the kill flag is
// raised. Returns domain.ErrKilled on a kill-flag exit so the entry point
// can exit non-zero and let the supervisor relaunch.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker loop starting")
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker loop stopped")
			return nil
		}

		killed, err := w.kill.IsSet(ctx, w.opts.Queue)
		if err != nil {
			w.logger.Error("kill flag check failed", slog.Any("error", err))
			w.sleep(ctx, w.opts.IdleSleep)
			continue
		}
		if killed {
			w.logger.Warn("kill flag set, worker exiting")
			return domain.ErrKilled
		}

		acquired, err := w.lock.Acquire(ctx, w.opts.Queue)
		if err != nil {
			w.logger.Error("lock acquire failed", slog.Any("error", err))
			w.sleep(ctx, w.opts.LockRetrySleep)
			continue
		}
		if !acquired {
			// Another worker owns the platform; a normal skip, not an error.
			w.sleep(ctx, w.opts.LockRetrySleep)
			continue
		}

		job, err := w.queue.Dequeue(ctx, w.opts.Queue)
		if err != nil {
			w.logger.Error("dequeue failed", slog.Any("error", err))
			w.release(ctx)
			w.sleep(ctx, w.opts.IdleSleep)
			continue
		}
		if job == nil {
			w.release(ctx)
			w.sleep(ctx, w.opts.IdleSleep)
			continue
		}

		err = w.process(ctx, job)
		w.release(ctx)
		if errors.Is(err, domain.ErrKilled) {
			w.logger.Warn("kill flag observed during job, worker exiting",
				slog.String("job_id", job.ID))
			return domain.ErrKilled
		}
	}
}

// process runs one dequeued job through the engine and settles all the
// bookkeeping a finished job leaves behind.
func (w *Worker) process(ctx context.Context, job *domain.Job) error {
	now := time.Now()
	job.Status = domain.JobRunning
	job.StartedAt = &now
	if err := w.queue.Update(ctx, *job); err != nil {
		w.logger.Error("mark job running failed", slog.Any("error", err))
		return err
	}
	if err := w.lock.SetRunningJob(ctx, w.opts.Queue, domain.RunningJob{
		JobID: job.ID, WorkflowID: job.WorkflowID, StartedAt: now,
	}); err != nil {
		w.logger.Error("set running job failed", slog.Any("error", err))
	}

	observability.StartProcessingJob(w.opts.Queue)
	w.publish(ctx, domain.EventJobStarted, job)

	jobLogger := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.WorkflowID),
	)
	jobLogger.Info("job started")

	killCheck := func(ctx context.Context) bool {
		set, err := w.kill.IsSet(ctx, w.opts.Queue)
		return err == nil && set
	}
	runErr := w.engine.Run(ctx, job, jobLogger, killCheck)

	if w.sched != nil && w.opts.Platform != "" {
		if err := w.sched.SetLastCompletedAt(ctx, w.opts.Platform, time.Now()); err != nil {
			jobLogger.Error("record platform completion failed", slog.Any("error", err))
		}
	}
	if err := w.lock.ClearRunningJob(ctx, w.opts.Queue); err != nil {
		jobLogger.Error("clear running job failed", slog.Any("error", err))
	}

	switch job.Status {
	case domain.JobCompleted:
		observability.CompleteJob(w.opts.Queue)
		w.publish(ctx, domain.EventJobCompleted, job)
		jobLogger.Info("job completed", slog.Float64("progress", job.Progress))
	case domain.JobFailed:
		observability.FailJob(w.opts.Queue)
		w.publish(ctx, domain.EventJobFailed, job)
		if job.Error != nil {
			jobLogger.Error("job failed",
				slog.String("node_id", job.Error.NodeID),
				slog.String("message", job.Error.Message))
		}
	default:
		observability.FailJob(w.opts.Queue)
		w.publish(ctx, domain.EventJobCancelled, job)
	}
	return runErr
}

func (w *Worker) release(ctx context.Context) {
	if err := w.lock.Release(ctx, w.opts.Queue); err != nil {
		w.logger.Error("lock release failed", slog.Any("error", err))
	}
}

func (w *Worker) publish(ctx context.Context, eventType string, job *domain.Job) {
	if w.events == nil {
		return
	}
	ev := domain.JobEvent{
		Type:       eventType,
		JobID:      job.ID,
		WorkflowID: job.WorkflowID,
		Platform:   job.Platform,
		Status:     job.Status,
		At:         time.Now(),
	}
	if err := w.events.Publish(ctx, ev); err != nil {
		w.logger.Warn("publish job event failed", slog.Any("error", err))
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
