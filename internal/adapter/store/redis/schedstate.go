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

// SchedulerState keeps the scheduler's pacing and on-sale rotation state.
// The scheduler is the single writer; admin and workers only read, except
// for last-completed-at which the finishing worker writes.
type SchedulerState struct {
	store *Store
}

// NewSchedulerState returns a SchedulerState backed by the shared store.
func NewSchedulerState(store *Store) *SchedulerState {
	return &SchedulerState{store: store}
}

var _ domain.SchedulerState = (*SchedulerState)(nil)

type platformStateJSON struct {
	OnSaleCounter   int   `json:"on_sale_counter"`
	LastCompletedAt int64 `json:"last_completed_at"` // epoch ms, 0 when never completed
}

// LastEnqueueAt returns the global last-enqueue timestamp, zero when unset.
func (s *SchedulerState) LastEnqueueAt(ctx context.Context) (time.Time, error) {
	val, err := s.store.rdb.Get(ctx, keyLastEnqueueAt).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, transportErr("redis.SchedulerState.LastEnqueueAt", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("op=redis.SchedulerState.LastEnqueueAt: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// SetLastEnqueueAt records the global last-enqueue timestamp as epoch ms.
func (s *SchedulerState) SetLastEnqueueAt(ctx context.Context, t time.Time) error {
	return s.store.retry(ctx, func() error {
		if err := s.store.rdb.Set(ctx, keyLastEnqueueAt, strconv.FormatInt(t.UnixMilli(), 10), 0).Err(); err != nil {
			return transportErr("redis.SchedulerState.SetLastEnqueueAt", err)
		}
		return nil
	})
}

// IsGlobalCooldownComplete reports whether delay has elapsed since the last
// enqueue on any platform. True when no enqueue has been recorded.
func (s *SchedulerState) IsGlobalCooldownComplete(ctx context.Context, delay time.Duration) (bool, error) {
	last, err := s.LastEnqueueAt(ctx)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	return time.Since(last) >= delay, nil
}

// PlatformState returns the per-platform counter and completion timestamp.
// A missing record yields the zero state: counter 0, never completed.
func (s *SchedulerState) PlatformState(ctx context.Context, platform string) (domain.PlatformState, error) {
	val, err := s.store.rdb.Get(ctx, keySchedulerState+platform).Result()
	if errors.Is(err, redis.Nil) {
		return domain.PlatformState{}, nil
	}
	if err != nil {
		return domain.PlatformState{}, transportErr("redis.SchedulerState.PlatformState", err)
	}
	var raw platformStateJSON
	if err := json.Unmarshal([]byte(val), &raw); err != nil {
		return domain.PlatformState{}, fmt.Errorf("op=redis.SchedulerState.PlatformState: %w", err)
	}
	ps := domain.PlatformState{OnSaleCounter: raw.OnSaleCounter}
	if raw.LastCompletedAt > 0 {
		ps.LastCompletedAt = time.UnixMilli(raw.LastCompletedAt)
	}
	return ps, nil
}

func (s *SchedulerState) setPlatformState(ctx context.Context, platform string, ps domain.PlatformState) error {
	raw := platformStateJSON{OnSaleCounter: ps.OnSaleCounter}
	if !ps.LastCompletedAt.IsZero() {
		raw.LastCompletedAt = ps.LastCompletedAt.UnixMilli()
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("op=redis.SchedulerState.setPlatformState: %w", err)
	}
	return s.store.retry(ctx, func() error {
		if err := s.store.rdb.Set(ctx, keySchedulerState+platform, data, 0).Err(); err != nil {
			return transportErr("redis.SchedulerState.setPlatformState", err)
		}
		return nil
	})
}

// SetLastCompletedAt records when the platform's last job finished. Written
// by the worker on job finish; read by the scheduler's cooldown check.
func (s *SchedulerState) SetLastCompletedAt(ctx context.Context, platform string, t time.Time) error {
	ps, err := s.PlatformState(ctx, platform)
	if err != nil {
		return err
	}
	ps.LastCompletedAt = t
	return s.setPlatformState(ctx, platform, ps)
}

// IsPlatformCooldownComplete reports whether the platform may receive a new
// job. A platform with no completion record is immediately eligible. The
// check deliberately uses last-completed-at rather than live lock state so a
// lock that expired under a stuck worker does not wedge the platform.
func (s *SchedulerState) IsPlatformCooldownComplete(ctx context.Context, platform string, cooldown time.Duration) (bool, error) {
	ps, err := s.PlatformState(ctx, platform)
	if err != nil {
		return false, err
	}
	if ps.LastCompletedAt.IsZero() {
		return true, nil
	}
	return time.Since(ps.LastCompletedAt) >= cooldown, nil
}

// NextSaleStatus returns on-sale while the counter is below ratio, off-sale
// once it reaches it.
func (s *SchedulerState) NextSaleStatus(ctx context.Context, platform string, ratio int) (domain.SaleStatus, error) {
	ps, err := s.PlatformState(ctx, platform)
	if err != nil {
		return "", err
	}
	if ps.OnSaleCounter < ratio {
		return domain.SaleStatusOn, nil
	}
	return domain.SaleStatusOff, nil
}

// IncrementOnSaleCounter advances the rotation: an off-sale job resets the
// counter to 0, an on-sale job increments it up to ratio. The resulting
// pattern over ratio+1 consecutive jobs is on×ratio then off×1.
func (s *SchedulerState) IncrementOnSaleCounter(ctx context.Context, platform string, current domain.SaleStatus, ratio int) error {
	ps, err := s.PlatformState(ctx, platform)
	if err != nil {
		return err
	}
	if current == domain.SaleStatusOff {
		ps.OnSaleCounter = 0
	} else if ps.OnSaleCounter < ratio {
		ps.OnSaleCounter++
	}
	return s.setPlatformState(ctx, platform, ps)
}

// Enabled reports the scheduler enable flag. Missing means enabled.
func (s *SchedulerState) Enabled(ctx context.Context) (bool, error) {
	return flagEnabled(ctx, s.store, keySchedulerOn, "redis.SchedulerState.Enabled")
}

// SetEnabled sets the scheduler enable flag.
func (s *SchedulerState) SetEnabled(ctx context.Context, enabled bool) error {
	return setFlag(ctx, s.store, keySchedulerOn, enabled, "redis.SchedulerState.SetEnabled")
}

// Heartbeat records the scheduler liveness timestamp.
func (s *SchedulerState) Heartbeat(ctx context.Context) error {
	return setHeartbeat(ctx, s.store, keySchedulerBeat, "redis.SchedulerState.Heartbeat")
}

// HeartbeatAt returns the last heartbeat, zero when never written.
func (s *SchedulerState) HeartbeatAt(ctx context.Context) (time.Time, error) {
	return heartbeatAt(ctx, s.store, keySchedulerBeat, "redis.SchedulerState.HeartbeatAt")
}

// IncrementScheduled bumps the lifetime scheduled-jobs counter.
func (s *SchedulerState) IncrementScheduled(ctx context.Context) error {
	if err := s.store.rdb.Incr(ctx, keySchedulerCount).Err(); err != nil {
		return transportErr("redis.SchedulerState.IncrementScheduled", err)
	}
	return nil
}

// ScheduledCount returns the lifetime scheduled-jobs counter.
func (s *SchedulerState) ScheduledCount(ctx context.Context) (int64, error) {
	n, err := s.store.rdb.Get(ctx, keySchedulerCount).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, transportErr("redis.SchedulerState.ScheduledCount", err)
	}
	return n, nil
}

// Shared helpers for the enable flag / heartbeat pattern used by both the
// scheduler and monitor state repositories.

func flagEnabled(ctx context.Context, store *Store, key, op string) (bool, error) {
	val, err := store.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, transportErr(op, err)
	}
	return val != "0" && val != "false", nil
}

func setFlag(ctx context.Context, store *Store, key string, enabled bool, op string) error {
	val := "1"
	if !enabled {
		val = "0"
	}
	if err := store.rdb.Set(ctx, key, val, 0).Err(); err != nil {
		return transportErr(op, err)
	}
	return nil
}

func setHeartbeat(ctx context.Context, store *Store, key, op string) error {
	val := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := store.rdb.Set(ctx, key, val, 0).Err(); err != nil {
		return transportErr(op, err)
	}
	return nil
}

func heartbeatAt(ctx context.Context, store *Store, key, op string) (time.Time, error) {
	val, err := store.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, transportErr(op, err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return time.UnixMilli(ms), nil
}
