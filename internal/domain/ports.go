package domain

import "time"

// Ports. Implementations live under internal/adapter; consumers receive them
// explicitly constructed, never as package singletons.

// JobQueue persists pending jobs per platform and job records.
// Dequeue never blocks: an empty queue (or a lost removal race) returns (nil, nil).
type JobQueue interface {
	Enqueue(ctx Context, j Job) error
	Dequeue(ctx Context, queue string) (*Job, error)
	Get(ctx Context, jobID string) (*Job, error)
	Update(ctx Context, j Job) error
	Delete(ctx Context, jobID string) error
	QueueLength(ctx Context, queue string) (int64, error)
	QueuedJobs(ctx Context, queue string, limit int64) ([]Job, error)
	ClearQueue(ctx Context, queue string) (int64, error)
}

// PlatformLock is the one-job-per-platform mutual exclusion primitive with a
// companion running-job record sharing the same TTL.
type PlatformLock interface {
	Acquire(ctx Context, platform string) (bool, error)
	Release(ctx Context, platform string) error
	IsLocked(ctx Context, platform string) (bool, error)
	TTL(ctx Context, platform string) (time.Duration, error)
	SetRunningJob(ctx Context, platform string, rj RunningJob) error
	ClearRunningJob(ctx Context, platform string) error
	RunningJob(ctx Context, platform string) (*RunningJob, error)
}

// SchedulerState holds the scheduler's pacing and rotation bookkeeping.
type SchedulerState interface {
	LastEnqueueAt(ctx Context) (time.Time, error)
	SetLastEnqueueAt(ctx Context, t time.Time) error
	IsGlobalCooldownComplete(ctx Context, delay time.Duration) (bool, error)

	PlatformState(ctx Context, platform string) (PlatformState, error)
	SetLastCompletedAt(ctx Context, platform string, t time.Time) error
	IsPlatformCooldownComplete(ctx Context, platform string, cooldown time.Duration) (bool, error)
	NextSaleStatus(ctx Context, platform string, ratio int) (SaleStatus, error)
	IncrementOnSaleCounter(ctx Context, platform string, current SaleStatus, ratio int) error

	Enabled(ctx Context) (bool, error)
	SetEnabled(ctx Context, enabled bool) error
	Heartbeat(ctx Context) error
	HeartbeatAt(ctx Context) (time.Time, error)
	IncrementScheduled(ctx Context) error
	ScheduledCount(ctx Context) (int64, error)
}

// MonitorState holds per-task completion bookkeeping for the monitor loop.
// A task without a completion record is immediately eligible.
type MonitorState interface {
	CompletedAt(ctx Context, taskID string) (time.Time, error)
	SetCompletedAt(ctx Context, taskID string, t time.Time) error
	IsCooldownComplete(ctx Context, taskID string, interval time.Duration) (bool, error)

	Enabled(ctx Context) (bool, error)
	SetEnabled(ctx Context, enabled bool) error
	Heartbeat(ctx Context) error
	HeartbeatAt(ctx Context) (time.Time, error)
	IncrementExecuted(ctx Context) error
	ExecutedCount(ctx Context) (int64, error)
}

// KillSwitch asks the worker for one platform to exit at its next safe point.
// The flag carries a short TTL so a relaunched worker does not self-kill.
type KillSwitch interface {
	Set(ctx Context, platform string) error
	IsSet(ctx Context, platform string) (bool, error)
	Clear(ctx Context, platform string) error
}

// Scraper is the injected site-specific capability turning a URL into a
// typed product result.
type Scraper interface {
	Scrape(ctx Context, platform, url string) (ScrapeResult, error)
}

// LinkChecker verifies curated-surface URLs for the monitor nodes.
type LinkChecker interface {
	Check(ctx Context, url string) (LinkStatus, error)
}

// ProductRepository is the injected relational store for scraped products.
type ProductRepository interface {
	Upsert(ctx Context, p Product) error
	Get(ctx Context, id int64) (*Product, error)
	ListTracked(ctx Context, platform string, sale SaleStatus, limit, offset int) ([]Product, error)
}

// Notifier delivers operator-facing messages. Failures are logged and
// swallowed; they never fail a job.
type Notifier interface {
	Notify(ctx Context, title, message string) error
}

// EventPublisher emits job lifecycle events to the audit stream,
// fire-and-forget.
type EventPublisher interface {
	Publish(ctx Context, ev JobEvent) error
}

// RateLimiter gates outbound scrape traffic per platform.
type RateLimiter interface {
	Allow(ctx Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}
