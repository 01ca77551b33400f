package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID     string   `json:"id"`
	Mode   string   `json:"mode"`
	Reason []string `json:"reasons"`
}

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func newTestMemory(t *testing.T, clock *manualClock, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	opts = append([]MemoryOption{WithMemoryClock(clock.now), WithMemoryCleanup(time.Hour)}, opts...)
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	mc := newTestMemory(t, clock)

	in := record{ID: "d-1", Mode: "panic", Reason: []string{"rtt_p99_high"}}
	require.NoError(t, mc.Set(ctx, "directive:execution", in, time.Minute))

	var out record
	require.NoError(t, mc.Get(ctx, "directive:execution", &out))
	assert.Equal(t, in, out)

	require.NoError(t, mc.Set(ctx, "plain", "text", 0))
	var s string
	require.NoError(t, mc.Get(ctx, "plain", &s))
	assert.Equal(t, "text", s)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	mc := newTestMemory(t, clock)

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Second))
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.t = clock.t.Add(11 * time.Second)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
	ok, _ = mc.Exists(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	mc := newTestMemory(t, clock, WithMemoryMaxSize(2))

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	clock.t = clock.t.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	clock.t = clock.t.Add(time.Second)

	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	clock.t = clock.t.Add(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
	assert.NoError(t, mc.Get(ctx, "c", &s))
}

func TestLayeredCacheFallsThroughToL2(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	l2 := newTestMemory(t, clock)
	lc := NewLayeredCache(l2, WithLayeredMemoryTTL(5*time.Second))
	t.Cleanup(func() { _ = lc.memCache.Close() })

	in := record{ID: "d-7", Mode: "degraded"}
	require.NoError(t, l2.Set(ctx, "directive:connectivity", in, time.Minute))

	var out record
	require.NoError(t, lc.Get(ctx, "directive:connectivity", &out))
	assert.Equal(t, in, out)

	// promoted into L1
	var again record
	require.NoError(t, lc.memCache.Get(ctx, "directive:connectivity", &again))
	assert.Equal(t, in, again)

	require.NoError(t, lc.Delete(ctx, "directive:connectivity"))
	assert.ErrorIs(t, lc.Get(ctx, "directive:connectivity", &out), ErrCacheMiss)
}

func TestLayeredCacheL1NeverOutlivesL2(t *testing.T) {
	lc := &LayeredCache{l1TTL: 30 * time.Second}
	assert.Equal(t, 10*time.Second, lc.l1Expiry(10*time.Second))
	assert.Equal(t, 30*time.Second, lc.l1Expiry(0))
	assert.Equal(t, 30*time.Second, lc.l1Expiry(time.Hour))
}
