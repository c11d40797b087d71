package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// MonitorState keeps per-task completion timestamps for the monitor loop.
// Completion is written by the executing node, not by the loop, so a task
// whose job is still in flight stays ineligible only through its interval.
type MonitorState struct {
	store *Store
}

// NewMonitorState returns a MonitorState backed by the shared store.
func NewMonitorState(store *Store) *MonitorState {
	return &MonitorState{store: store}
}

var _ domain.MonitorState = (*MonitorState)(nil)

// CompletedAt returns when the task last completed, zero when never.
func (m *MonitorState) CompletedAt(ctx context.Context, taskID string) (time.Time, error) {
	val, err := m.store.rdb.Get(ctx, taskKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, transportErr("redis.MonitorState.CompletedAt", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, transportErr("redis.MonitorState.CompletedAt", err)
	}
	return time.UnixMilli(ms), nil
}

// SetCompletedAt records task completion as epoch ms.
func (m *MonitorState) SetCompletedAt(ctx context.Context, taskID string, t time.Time) error {
	return m.store.retry(ctx, func() error {
		if err := m.store.rdb.Set(ctx, taskKey(taskID), strconv.FormatInt(t.UnixMilli(), 10), 0).Err(); err != nil {
			return transportErr("redis.MonitorState.SetCompletedAt", err)
		}
		return nil
	})
}

// IsCooldownComplete reports task eligibility: true when the interval has
// elapsed, or when the task has never completed.
func (m *MonitorState) IsCooldownComplete(ctx context.Context, taskID string, interval time.Duration) (bool, error) {
	last, err := m.CompletedAt(ctx, taskID)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	return time.Since(last) >= interval, nil
}

// Enabled reports the monitor enable flag. Missing means enabled.
func (m *MonitorState) Enabled(ctx context.Context) (bool, error) {
	return flagEnabled(ctx, m.store, keyMonitorOn, "redis.MonitorState.Enabled")
}

// SetEnabled sets the monitor enable flag.
func (m *MonitorState) SetEnabled(ctx context.Context, enabled bool) error {
	return setFlag(ctx, m.store, keyMonitorOn, enabled, "redis.MonitorState.SetEnabled")
}

// Heartbeat records the monitor liveness timestamp.
func (m *MonitorState) Heartbeat(ctx context.Context) error {
	return setHeartbeat(ctx, m.store, keyMonitorBeat, "redis.MonitorState.Heartbeat")
}

// HeartbeatAt returns the last heartbeat, zero when never written.
func (m *MonitorState) HeartbeatAt(ctx context.Context) (time.Time, error) {
	return heartbeatAt(ctx, m.store, keyMonitorBeat, "redis.MonitorState.HeartbeatAt")
}

// IncrementExecuted bumps the lifetime executed-tasks counter.
func (m *MonitorState) IncrementExecuted(ctx context.Context) error {
	if err := m.store.rdb.Incr(ctx, keyMonitorCount).Err(); err != nil {
		return transportErr("redis.MonitorState.IncrementExecuted", err)
	}
	return nil
}

// ExecutedCount returns the lifetime executed-tasks counter.
func (m *MonitorState) ExecutedCount(ctx context.Context) (int64, error) {
	n, err := m.store.rdb.Get(ctx, keyMonitorCount).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, transportErr("redis.MonitorState.ExecutedCount", err)
	}
	return n, nil
}
