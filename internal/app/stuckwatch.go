package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// StuckJobWatcher periodically scans the running-job records and notifies
// operators about jobs running past maxAge. It never releases anything
// itself; release is an explicit admin action so a slow-but-alive job is
// not killed behind the operator's back.
type StuckJobWatcher struct {
	locks    domain.PlatformLock
	notifier domain.Notifier
	queues   []string
	maxAge   time.Duration
	interval time.Duration

	notified map[string]struct{}
}

// NewStuckJobWatcher constructs a watcher over the given queue names.
func NewStuckJobWatcher(locks domain.PlatformLock, notifier domain.Notifier, queues []string, maxAge, interval time.Duration) *StuckJobWatcher {
	if locks == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 90 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StuckJobWatcher{
		locks:    locks,
		notifier: notifier,
		queues:   queues,
		maxAge:   maxAge,
		interval: interval,
		notified: make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled.
func (w *StuckJobWatcher) Run(ctx context.Context) {
	if w == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job watcher stopping")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *StuckJobWatcher) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.stuckwatch")
	ctx, span := tracer.Start(ctx, "StuckJobWatcher.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-w.maxAge)
	stuck := 0

	for _, queue := range w.queues {
		rj, err := w.locks.RunningJob(ctx, queue)
		if err != nil {
			span.RecordError(err)
			slog.Error("stuck job sweep failed to read running job",
				slog.String("queue", queue), slog.Any("error", err))
			continue
		}
		if rj == nil || !rj.StartedAt.Before(cutoff) {
			continue
		}
		stuck++
		if _, seen := w.notified[rj.JobID]; seen {
			continue
		}
		w.notified[rj.JobID] = struct{}{}

		elapsed := time.Since(rj.StartedAt).Round(time.Second)
		slog.Warn("running job exceeds maximum age",
			slog.String("queue", queue),
			slog.String("job_id", rj.JobID),
			slog.Duration("elapsed", elapsed))
		if w.notifier != nil {
			msg := fmt.Sprintf("Job %s on %s has been running for %s (limit %s). Force-release it via the admin API if it is stuck.",
				rj.JobID, queue, elapsed, w.maxAge)
			if err := w.notifier.Notify(ctx, "Stuck job detected", msg); err != nil {
				slog.Warn("stuck job notification failed", slog.Any("error", err))
			}
		}
	}

	span.SetAttributes(
		attribute.Int("jobs.queues_checked", len(w.queues)),
		attribute.Int("jobs.stuck", stuck),
	)
}
