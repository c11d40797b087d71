package redis

import (
	"context"
	"time"
)

// KillSwitch implements the per-platform worker restart flag. The short TTL
// expires the flag automatically so a relaunched worker does not read a
// stale request and exit again.
type KillSwitch struct {
	store *Store
	ttl   time.Duration
}

// NewKillSwitch returns a KillSwitch with the given flag TTL.
func NewKillSwitch(store *Store, ttl time.Duration) *KillSwitch {
	return &KillSwitch{store: store, ttl: ttl}
}

// Set raises the kill flag for a platform.
func (k *KillSwitch) Set(ctx context.Context, platform string) error {
	if err := k.store.rdb.Set(ctx, killKey(platform), "1", k.ttl).Err(); err != nil {
		return transportErr("redis.KillSwitch.Set", err)
	}
	return nil
}

// IsSet reports whether the kill flag is raised.
func (k *KillSwitch) IsSet(ctx context.Context, platform string) (bool, error) {
	n, err := k.store.rdb.Exists(ctx, killKey(platform)).Result()
	if err != nil {
		return false, transportErr("redis.KillSwitch.IsSet", err)
	}
	return n > 0, nil
}

// Clear lowers the kill flag without waiting for the TTL.
func (k *KillSwitch) Clear(ctx context.Context, platform string) error {
	if err := k.store.rdb.Del(ctx, killKey(platform)).Err(); err != nil {
		return transportErr("redis.KillSwitch.Clear", err)
	}
	return nil
}
