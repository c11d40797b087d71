package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/config"
	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// MonitorQueue returns the queue name for a monitor task. Monitor jobs share
// the worker substrate with platform jobs but live in dedicated queues.
func MonitorQueue(prefix, taskID string) string {
	return prefix + ":" + taskID
}

// Monitor is the alert watcher loop: it enqueues a monitor job for each
// configured task whenever the task's interval cooldown has elapsed. The
// completion timestamp is written by the executing node, not by this loop.
type Monitor struct {
	state       domain.MonitorState
	queue       domain.JobQueue
	tasks       []config.MonitorTask
	queuePrefix string
	interval    time.Duration
	logger      *slog.Logger
}

// NewMonitor constructs the watcher loop.
func NewMonitor(state domain.MonitorState, queue domain.JobQueue, tasks []config.MonitorTask, queuePrefix string, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		state:       state,
		queue:       queue,
		tasks:       tasks,
		queuePrefix: queuePrefix,
		interval:    interval,
		logger:      logger.With(slog.String("component", "monitor")),
	}
}

// Run executes the watcher loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("monitor loop starting", slog.Int("tasks", len(m.tasks)))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor loop stopped")
			return
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				m.logger.Error("monitor tick failed", slog.Any("error", err))
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	if err := m.state.Heartbeat(ctx); err != nil {
		return err
	}

	enabled, err := m.state.Enabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	for _, task := range m.tasks {
		ready, err := m.state.IsCooldownComplete(ctx, task.ID, task.Interval)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		queue := MonitorQueue(m.queuePrefix, task.ID)
		length, err := m.queue.QueueLength(ctx, queue)
		if err != nil {
			return err
		}
		if length > 0 {
			// Previous monitor job still queued; don't pile up.
			continue
		}
		if err := m.enqueueTask(ctx, task, queue); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) enqueueTask(ctx context.Context, task config.MonitorTask, queue string) error {
	now := time.Now()
	job := domain.Job{
		ID:         domain.NewJobID(),
		WorkflowID: task.ID,
		// Monitor queues are FIFO: equal priority everywhere, ULIDs break
		// ties in enqueue order.
		Platform: queue,
		Priority: domain.PriorityDefault,
		Status:   domain.JobPending,
		Params: map[string]any{
			"task_id":   task.ID,
			"task_name": task.Name,
		},
		CreatedAt: now,
		Metadata:  map[string]any{"source": "monitor"},
	}
	if err := m.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	if err := m.state.IncrementExecuted(ctx); err != nil {
		return err
	}
	m.logger.Info("monitor job enqueued",
		slog.String("job_id", job.ID),
		slog.String("task_id", task.ID))
	return nil
}
