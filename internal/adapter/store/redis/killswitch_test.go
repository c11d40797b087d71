package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKillFlagSetClear(t *testing.T) {
	store, _ := newTestStore(t)
	ks := NewKillSwitch(store, time.Minute)
	ctx := t.Context()

	set, err := ks.IsSet(ctx, "coupang")
	require.NoError(t, err)
	require.False(t, set)

	require.NoError(t, ks.Set(ctx, "coupang"))
	set, err = ks.IsSet(ctx, "coupang")
	require.NoError(t, err)
	require.True(t, set)

	// Flags are per platform.
	set, err = ks.IsSet(ctx, "gmarket")
	require.NoError(t, err)
	require.False(t, set)

	require.NoError(t, ks.Clear(ctx, "coupang"))
	set, err = ks.IsSet(ctx, "coupang")
	require.NoError(t, err)
	require.False(t, set)
}

// The TTL guards a relaunched worker from reading its own kill request.
func TestKillFlagExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ks := NewKillSwitch(store, time.Minute)
	ctx := t.Context()

	require.NoError(t, ks.Set(ctx, "coupang"))
	mr.FastForward(2 * time.Minute)

	set, err := ks.IsSet(ctx, "coupang")
	require.NoError(t, err)
	require.False(t, set)
}
