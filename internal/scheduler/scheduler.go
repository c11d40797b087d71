// Package scheduler contains the control loops that decide when jobs are
// enqueued: the platform scan scheduler and the alert monitor watcher.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// Options configures the scheduler loop.
type Options struct {
	// Platforms in configured walk order.
	Platforms []string
	// LinkURLPatterns maps platform to the product link pattern baked into
	// scheduled job params.
	LinkURLPatterns map[string]string

	CheckInterval        time.Duration
	InterPlatformDelay   time.Duration
	SamePlatformCooldown time.Duration
	OnSaleRatio          int

	DefaultLimit       int
	DefaultBatchSize   int
	DefaultConcurrency int
}

// Scheduler is the single-process control loop that paces scan jobs across
// platforms. At most one platform is enqueued per tick, which together with
// the global cooldown enforces the inter-platform gap.
type Scheduler struct {
	state  domain.SchedulerState
	queue  domain.JobQueue
	lock   domain.PlatformLock
	events domain.EventPublisher
	opts   Options
	logger *slog.Logger
}

// New constructs a Scheduler. events may be nil.
func New(state domain.SchedulerState, queue domain.JobQueue, lock domain.PlatformLock, events domain.EventPublisher, opts Options, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		state:  state,
		queue:  queue,
		lock:   lock,
		events: events,
		opts:   opts,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Run executes the control loop until ctx is cancelled. Tick errors are
// logged and the loop continues; a broken store heals on a later tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler loop starting",
		slog.Any("platforms", s.opts.Platforms),
		slog.Duration("check_interval", s.opts.CheckInterval))
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler loop stopped")
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", slog.Any("error", err))
			}
		}
	}
}

// tick performs one scheduling decision.
func (s *Scheduler) tick(ctx context.Context) error {
	observability.SchedulerTicksTotal.Inc()
	if err := s.state.Heartbeat(ctx); err != nil {
		return err
	}

	enabled, err := s.state.Enabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	complete, err := s.state.IsGlobalCooldownComplete(ctx, s.opts.InterPlatformDelay)
	if err != nil {
		return err
	}
	if !complete {
		return nil
	}

	for _, platform := range s.opts.Platforms {
		eligible, err := s.platformEligible(ctx, platform)
		if err != nil {
			return err
		}
		if !eligible {
			continue
		}
		if err := s.enqueueScan(ctx, platform); err != nil {
			return err
		}
		// At most one enqueue per tick keeps the inter-platform gap.
		return nil
	}
	return nil
}

func (s *Scheduler) platformEligible(ctx context.Context, platform string) (bool, error) {
	length, err := s.queue.QueueLength(ctx, platform)
	if err != nil {
		return false, err
	}
	observability.QueueDepth.WithLabelValues(platform).Set(float64(length))
	if length > 0 {
		return false, nil
	}

	running, err := s.lock.RunningJob(ctx, platform)
	if err != nil {
		return false, err
	}
	if running != nil {
		return false, nil
	}

	return s.state.IsPlatformCooldownComplete(ctx, platform, s.opts.SamePlatformCooldown)
}

// enqueueScan builds and enqueues the next update job for platform, then
// advances the pacing and rotation state.
func (s *Scheduler) enqueueScan(ctx context.Context, platform string) error {
	sale, err := s.state.NextSaleStatus(ctx, platform, s.opts.OnSaleRatio)
	if err != nil {
		return err
	}

	now := time.Now()
	job := domain.Job{
		ID:         domain.NewJobID(),
		WorkflowID: platform + "-update-v2",
		Platform:   platform,
		Priority:   domain.PriorityDefault,
		Status:     domain.JobPending,
		Params: map[string]any{
			"platform":           platform,
			"link_url_pattern":   s.opts.LinkURLPatterns[platform],
			"sale_status":        string(sale),
			"limit":              s.opts.DefaultLimit,
			"batch_size":         s.opts.DefaultBatchSize,
			"concurrency":        s.opts.DefaultConcurrency,
			"update_sale_status": true,
		},
		CreatedAt: now,
		Metadata:  map[string]any{"source": "scheduler"},
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	observability.EnqueueJob(platform)

	if err := s.state.SetLastEnqueueAt(ctx, now); err != nil {
		return err
	}
	if err := s.state.IncrementOnSaleCounter(ctx, platform, sale, s.opts.OnSaleRatio); err != nil {
		return err
	}
	if err := s.state.IncrementScheduled(ctx); err != nil {
		return err
	}

	if s.events != nil {
		if err := s.events.Publish(ctx, domain.JobEvent{
			Type: domain.EventJobCreated, JobID: job.ID, WorkflowID: job.WorkflowID,
			Platform: platform, Status: domain.JobPending, At: now,
		}); err != nil {
			s.logger.Warn("publish job event failed", slog.Any("error", err))
		}
	}

	s.logger.Info("scan job enqueued",
		slog.String("job_id", job.ID),
		slog.String("platform", platform),
		slog.String("sale_status", string(sale)))
	return nil
}
