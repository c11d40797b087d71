package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// PlatformLock implements one-job-per-platform mutual exclusion with a
// TTL-bounded SETNX. The TTL bounds exposure when a worker crashes before
// release; no fencing tokens are needed because a platform's jobs tolerate
// at-least-once execution.
type PlatformLock struct {
	store *Store
	ttl   time.Duration
}

// NewPlatformLock returns a PlatformLock with the given TTL for both the
// lock key and the companion running-job record.
func NewPlatformLock(store *Store, ttl time.Duration) *PlatformLock {
	return &PlatformLock{store: store, ttl: ttl}
}

var _ domain.PlatformLock = (*PlatformLock)(nil)

// Acquire attempts an atomic set-if-absent. The value is the acquisition
// time in epoch milliseconds, useful when inspecting a stuck lock.
func (l *PlatformLock) Acquire(ctx context.Context, platform string) (bool, error) {
	val := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ok, err := l.store.rdb.SetNX(ctx, lockKey(platform), val, l.ttl).Result()
	if err != nil {
		return false, transportErr("redis.PlatformLock.Acquire", err)
	}
	return ok, nil
}

// Release unconditionally deletes the lock. The caller is trusted to release
// only a lock it holds.
func (l *PlatformLock) Release(ctx context.Context, platform string) error {
	if err := l.store.rdb.Del(ctx, lockKey(platform)).Err(); err != nil {
		return transportErr("redis.PlatformLock.Release", err)
	}
	return nil
}

// IsLocked reports whether the lock key currently exists.
func (l *PlatformLock) IsLocked(ctx context.Context, platform string) (bool, error) {
	n, err := l.store.rdb.Exists(ctx, lockKey(platform)).Result()
	if err != nil {
		return false, transportErr("redis.PlatformLock.IsLocked", err)
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of the lock, zero when not held.
func (l *PlatformLock) TTL(ctx context.Context, platform string) (time.Duration, error) {
	d, err := l.store.rdb.TTL(ctx, lockKey(platform)).Result()
	if err != nil {
		return 0, transportErr("redis.PlatformLock.TTL", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// SetRunningJob writes the companion running-job record with the lock TTL.
func (l *PlatformLock) SetRunningJob(ctx context.Context, platform string, rj domain.RunningJob) error {
	data, err := json.Marshal(rj)
	if err != nil {
		return fmt.Errorf("op=redis.PlatformLock.SetRunningJob: %w", err)
	}
	if err := l.store.rdb.Set(ctx, runningKey(platform), data, l.ttl).Err(); err != nil {
		return transportErr("redis.PlatformLock.SetRunningJob", err)
	}
	return nil
}

// ClearRunningJob removes the running-job record.
func (l *PlatformLock) ClearRunningJob(ctx context.Context, platform string) error {
	if err := l.store.rdb.Del(ctx, runningKey(platform)).Err(); err != nil {
		return transportErr("redis.PlatformLock.ClearRunningJob", err)
	}
	return nil
}

// RunningJob returns the current running-job record, (nil, nil) when none.
func (l *PlatformLock) RunningJob(ctx context.Context, platform string) (*domain.RunningJob, error) {
	data, err := l.store.rdb.Get(ctx, runningKey(platform)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, transportErr("redis.PlatformLock.RunningJob", err)
	}
	var rj domain.RunningJob
	if err := json.Unmarshal([]byte(data), &rj); err != nil {
		return nil, fmt.Errorf("op=redis.PlatformLock.RunningJob: %w", err)
	}
	return &rj, nil
}
