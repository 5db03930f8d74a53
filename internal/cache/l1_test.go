package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

func testConfig(key string, version int64) *flag.Config {
	return &flag.Config{
		Key:            key,
		Version:        version,
		Status:         flag.StatusActive,
		Variants:       []flag.Variant{{Key: "on", Weight: flag.WeightTotal}},
		RolloutBps:     flag.WeightTotal,
		Salt:           "s1",
		DefaultVariant: "off",
	}
}

func TestL1_GetSetDel(t *testing.T) {
	t.Parallel()

	// Arrange
	l1, err := NewL1(16, time.Minute, nil)
	require.NoError(t, err)

	cfg := testConfig("checkout", 1)

	// Act & Assert
	_, ok := l1.Get("checkout")
	assert.False(t, ok, "empty cache should miss")

	l1.Set("checkout", cfg)
	got, ok := l1.Get("checkout")
	require.True(t, ok)
	assert.Same(t, cfg, got, "cached configs are shared, not copied")

	l1.Del("checkout")
	_, ok = l1.Get("checkout")
	assert.False(t, ok, "deleted key should miss")
}

func TestL1_TTLEnforcedAtReadTime(t *testing.T) {
	t.Parallel()

	// Arrange: a controllable clock.
	l1, err := NewL1(16, 10*time.Second, nil)
	require.NoError(t, err)

	now := time.Now()
	l1.now = func() time.Time { return now }
	l1.Set("checkout", testConfig("checkout", 1))

	// Act & Assert: fresh within TTL.
	_, ok := l1.Get("checkout")
	assert.True(t, ok)

	// Past TTL the entry is a miss for normal reads...
	now = now.Add(11 * time.Second)
	_, ok = l1.Get("checkout")
	assert.False(t, ok, "expired entry must not be served by a normal read")

	// ...but remains available to the explicit stale-allowed path.
	stale, ok := l1.GetStale("checkout")
	require.True(t, ok, "expired entry must remain available for degraded reads")
	assert.Equal(t, int64(1), stale.Version)
}

func TestL1_SetRefreshesTTL(t *testing.T) {
	t.Parallel()

	l1, err := NewL1(16, 10*time.Second, nil)
	require.NoError(t, err)

	now := time.Now()
	l1.now = func() time.Time { return now }
	l1.Set("checkout", testConfig("checkout", 1))

	// Re-set just before expiry, then step past the original deadline.
	now = now.Add(9 * time.Second)
	l1.Set("checkout", testConfig("checkout", 2))
	now = now.Add(9 * time.Second)

	got, ok := l1.Get("checkout")
	require.True(t, ok, "refreshed entry should still be fresh")
	assert.Equal(t, int64(2), got.Version)
}

func TestL1_CapacityEviction(t *testing.T) {
	t.Parallel()

	// Arrange: capacity 2 with an eviction observer.
	var evicted []string
	l1, err := NewL1(2, time.Minute, func(key string) {
		evicted = append(evicted, key)
	})
	require.NoError(t, err)

	// Act: the third insert evicts the least recently used key.
	l1.Set("a", testConfig("a", 1))
	l1.Set("b", testConfig("b", 1))
	_, _ = l1.Get("a") // touch "a" so "b" is the LRU victim
	l1.Set("c", testConfig("c", 1))

	// Assert
	require.Len(t, evicted, 1)
	assert.Equal(t, "b", evicted[0])
	assert.Equal(t, 2, l1.Len())

	_, ok := l1.Get("a")
	assert.True(t, ok)
	_, ok = l1.Get("b")
	assert.False(t, ok)
}

func TestL1_BoundedSize(t *testing.T) {
	t.Parallel()

	l1, err := NewL1(8, time.Minute, nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("flag-%d", i)
		l1.Set(key, testConfig(key, 1))
	}

	assert.Equal(t, 8, l1.Len(), "cache must never exceed its capacity")
}
