// Package redis implements the shared state store and all repositories
// layered on it: job queues, platform locks, scheduler and monitor state,
// and worker kill flags.
//
// The store is the only shared mutable resource in the system. Each key has
// a single conceptual writer; atomic set-if-absent is used only for lock
// acquisition and kill flags.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// Key layout. Authoritative; admin tooling and dashboards depend on it.
const (
	keyQueuePrefix   = "workflow:queue:platform:" // + queue name, sorted set of job ids by priority
	keyJobPrefix     = "workflow:job:"            // + job id, hash with field "data"
	keyLockPrefix    = "workflow:lock:platform:"  // + platform, lock string
	keyRunningPrefix = "workflow:running:platform:"
	keyKillPrefix    = "worker:kill:"

	keyLastEnqueueAt  = "scheduler:last_enqueue_at"
	keySchedulerState = "scheduler:state:" // + platform, JSON {on_sale_counter,last_completed_at}
	keySchedulerOn    = "scheduler:enabled"
	keySchedulerBeat  = "scheduler:status"
	keySchedulerCount = "scheduler:scheduled_total"

	keyMonitorOn    = "alert_watcher:enabled"
	keyMonitorBeat  = "alert_watcher:status"
	keyMonitorCount = "alert_watcher:executed_total"
	keyMonitorTask  = "alert_watcher:task:" // + task id + ":completed_at"
)

// Job record TTLs by status (state-dependent, refreshed on every write).
const (
	ttlPending  = time.Hour
	ttlRunning  = 2 * time.Hour
	ttlTerminal = 24 * time.Hour
)

// Store wraps the redis client with transport-level retry. All repositories
// in this package share one Store and therefore one connection pool.
type Store struct {
	rdb           *redis.Client
	retryMax      uint64
	retryInterval time.Duration
}

// Options configures the store connection and retry behavior.
type Options struct {
	Addr          string
	Password      string
	DB            int
	RetryMax      int
	RetryInterval time.Duration
}

// NewStore connects to redis and returns a Store.
func NewStore(opts Options) *Store {
	if opts.RetryMax <= 0 {
		opts.RetryMax = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 200 * time.Millisecond
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Store{rdb: rdb, retryMax: uint64(opts.RetryMax), retryInterval: opts.RetryInterval}
}

// NewStoreWithClient wraps an existing client; used by tests with miniredis.
func NewStoreWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, retryMax: 1, retryInterval: 10 * time.Millisecond}
}

// Client exposes the underlying client for callers that need raw access
// (Lua scripts in the rate limiter).
func (s *Store) Client() *redis.Client { return s.rdb }

// Ping verifies connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=redis.Ping: %w: %w", domain.ErrTransport, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.rdb.Close() }

// retry runs op with constant-interval retries on transport errors.
// redis.Nil is a miss, not a transport failure: it is surfaced to the caller
// without retrying.
func (s *Store) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryInterval), s.retryMax), ctx)
	return backoff.Retry(wrapped, bo)
}

func queueKey(queue string) string      { return keyQueuePrefix + queue }
func jobKey(jobID string) string        { return keyJobPrefix + jobID }
func lockKey(platform string) string    { return keyLockPrefix + platform }
func runningKey(platform string) string { return keyRunningPrefix + platform }
func killKey(platform string) string    { return keyKillPrefix + platform }
func taskKey(taskID string) string      { return keyMonitorTask + taskID + ":completed_at" }

func transportErr(op string, err error) error {
	return fmt.Errorf("op=%s: %w: %w", op, domain.ErrTransport, err)
}
