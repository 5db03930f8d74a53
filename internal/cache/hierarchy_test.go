package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-flags/bifrost/internal/flag"
)

// stubStore is a scriptable configstore.Store.
type stubStore struct {
	configs map[string]*flag.Config
	err     error
	calls   int
}

func (s *stubStore) GetConfig(_ context.Context, key string) (*flag.Config, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cfg, ok := s.configs[key]
	if !ok {
		return nil, flag.ErrConfigNotFound
	}
	return cfg, nil
}

// unreachableL2 returns an L2 tier backed by a client that cannot connect,
// standing in for a Redis outage. The hierarchy must tolerate it.
func unreachableL2() *L2 {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	})
	return NewL2(client, "test:flag", time.Minute, "test:invalidations")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHierarchy(t *testing.T, store *stubStore) (*Hierarchy, *L1) {
	t.Helper()
	l1, err := NewL1(16, time.Minute, nil)
	require.NoError(t, err)
	return NewHierarchy(l1, unreachableL2(), store, quietLogger()), l1
}

func TestHierarchy_ReadThroughPopulatesL1(t *testing.T) {
	t.Parallel()

	// Arrange
	store := &stubStore{configs: map[string]*flag.Config{
		"checkout": testConfig("checkout", 3),
	}}
	h, l1 := newTestHierarchy(t, store)

	// Act: first read comes from the authoritative store.
	cfg, tier, err := h.Get(context.Background(), "checkout")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, TierL3, tier)
	assert.Equal(t, int64(3), cfg.Version)
	assert.Equal(t, 1, store.calls)

	_, ok := l1.Get("checkout")
	assert.True(t, ok, "an L3 hit must populate L1")

	// Second read is an L1 hit and never touches the store.
	_, tier, err = h.Get(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, TierL1, tier)
	assert.Equal(t, 1, store.calls)
}

func TestHierarchy_UnknownKey(t *testing.T) {
	t.Parallel()

	store := &stubStore{configs: map[string]*flag.Config{}}
	h, _ := newTestHierarchy(t, store)

	_, tier, err := h.Get(context.Background(), "missing")

	require.ErrorIs(t, err, flag.ErrConfigNotFound)
	assert.Equal(t, TierNone, tier)
}

func TestHierarchy_UpstreamFailureWrapped(t *testing.T) {
	t.Parallel()

	store := &stubStore{err: errors.New("connection refused")}
	h, _ := newTestHierarchy(t, store)

	_, tier, err := h.Get(context.Background(), "checkout")

	require.ErrorIs(t, err, flag.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, flag.ErrConfigNotFound)
	assert.Equal(t, TierNone, tier)
}

func TestHierarchy_GetStaleServesExpiredEntry(t *testing.T) {
	t.Parallel()

	// Arrange: populate L1, then expire the entry and break the store.
	store := &stubStore{configs: map[string]*flag.Config{
		"checkout": testConfig("checkout", 5),
	}}
	l1, err := NewL1(16, 10*time.Second, nil)
	require.NoError(t, err)

	now := time.Now()
	l1.now = func() time.Time { return now }

	h := NewHierarchy(l1, unreachableL2(), store, quietLogger())
	_, _, err = h.Get(context.Background(), "checkout")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	store.err = errors.New("store down")

	// Act: the normal read degrades, the stale read still answers.
	_, _, err = h.Get(context.Background(), "checkout")
	require.ErrorIs(t, err, flag.ErrUpstreamUnavailable)

	stale, ok := h.GetStale("checkout")

	// Assert
	require.True(t, ok)
	assert.Equal(t, int64(5), stale.Version)
}

func TestHierarchy_GetStaleMissWhenNeverCached(t *testing.T) {
	t.Parallel()

	store := &stubStore{err: errors.New("store down")}
	h, _ := newTestHierarchy(t, store)

	_, ok := h.GetStale("never-seen")

	assert.False(t, ok)
}

func TestHierarchy_InvalidateEvictsL1(t *testing.T) {
	t.Parallel()

	// Arrange
	store := &stubStore{configs: map[string]*flag.Config{
		"checkout": testConfig("checkout", 1),
	}}
	h, l1 := newTestHierarchy(t, store)

	_, _, err := h.Get(context.Background(), "checkout")
	require.NoError(t, err)
	_, ok := l1.Get("checkout")
	require.True(t, ok)

	// Act: the L2 delete fails (unreachable Redis) but the local tier must
	// still be evicted.
	invErr := h.Invalidate(context.Background(), "checkout")

	// Assert
	assert.Error(t, invErr, "unreachable L2 surfaces the delete failure")
	_, ok = l1.Get("checkout")
	assert.False(t, ok, "invalidation must evict L1 regardless of L2 state")

	// The next read refetches from the store.
	store.configs["checkout"] = testConfig("checkout", 2)
	cfg, tier, err := h.Get(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, TierL3, tier)
	assert.Equal(t, int64(2), cfg.Version)
}

func TestHierarchy_L2OutageFallsThroughToStore(t *testing.T) {
	t.Parallel()

	// With L1 cold and L2 unreachable, reads still succeed from L3.
	store := &stubStore{configs: map[string]*flag.Config{
		"checkout": testConfig("checkout", 1),
	}}
	h, _ := newTestHierarchy(t, store)

	cfg, tier, err := h.Get(context.Background(), "checkout")

	require.NoError(t, err)
	assert.Equal(t, TierL3, tier)
	assert.Equal(t, int64(1), cfg.Version)
}
