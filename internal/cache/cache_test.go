package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/codemode/config"
)

// =============================================================================
// Factory
// =============================================================================

func TestNew_SelectsBackend(t *testing.T) {
	cfg := config.DefaultCacheConfig()
	cfg.Backend = "memory"

	store, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &MemoryStore{}, store)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := config.DefaultCacheConfig()
	cfg.Backend = "carrier-pigeon"

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cache backend")
}

// =============================================================================
// Memory store
// =============================================================================

func TestMemoryStore_SetAndGet(t *testing.T) {
	s := NewMemoryStore(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))

	value, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestMemoryStore_MissIsNotAnError(t *testing.T) {
	s := NewMemoryStore(10, time.Minute)

	_, ok, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Overwrite(t *testing.T) {
	s := NewMemoryStore(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "old", 0))
	require.NoError(t, s.Set(ctx, "k", "new", 0))

	value, ok, _ := s.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "new", value)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", "v", 20*time.Millisecond))

	_, ok, _ := s.Get(ctx, "short")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok, _ = s.Get(ctx, "short")
	assert.False(t, ok)
}

func TestMemoryStore_NegativeTTLNeverExpires(t *testing.T) {
	s := NewMemoryStore(10, time.Minute)
	ctx := context.Background()

	// ttl < 0 bypasses the default and stores without an expiry.
	require.NoError(t, s.Set(ctx, "forever", "v", -1))
	_, ok, _ := s.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s := NewMemoryStore(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), "v", 0))
	}

	// Touch k0 so k1 becomes the eviction candidate.
	_, ok, _ := s.Get(ctx, "k0")
	require.True(t, ok)

	require.NoError(t, s.Set(ctx, "k3", "v", 0))
	assert.Equal(t, 3, s.Len())

	_, ok, _ = s.Get(ctx, "k1")
	assert.False(t, ok, "least recently used entry should be gone")
	_, ok, _ = s.Get(ctx, "k0")
	assert.True(t, ok)
	_, ok, _ = s.Get(ctx, "k3")
	assert.True(t, ok)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore(64, time.Minute)
	ctx := context.Background()

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", i%16)
				_ = s.Set(ctx, key, "v", 0)
				_, _, _ = s.Get(ctx, key)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.LessOrEqual(t, s.Len(), 16)
}

// =============================================================================
// Redis store
// =============================================================================

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := config.DefaultCacheConfig()
	cfg.Backend = "redis"
	cfg.TTL = time.Minute
	cfg.Redis.Addr = mr.Addr()

	store, err := NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	return mr, store
}

func TestRedisStore_SetAndGet(t *testing.T) {
	mr, store := setupRedisStore(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "compiled text", 0))

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "compiled text", value)
}

func TestRedisStore_MissIsNotAnError(t *testing.T) {
	mr, store := setupRedisStore(t)
	defer mr.Close()
	defer store.Close()

	_, ok, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_TTLApplied(t *testing.T) {
	mr, store := setupRedisStore(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 30*time.Second))

	mr.FastForward(time.Minute)
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_DefaultTTLWhenZero(t *testing.T) {
	mr, store := setupRedisStore(t)
	defer mr.Close()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", 0))
	assert.Positive(t, mr.TTL("k"))
}

func TestRedisStore_ClosedStoreRejectsOperations(t *testing.T) {
	mr, store := setupRedisStore(t)
	defer mr.Close()

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "double close is a no-op")

	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	require.Error(t, store.Set(context.Background(), "k", "v", 0))
}

func TestNewRedisStore_ConnectionFailure(t *testing.T) {
	cfg := config.DefaultCacheConfig()
	cfg.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := NewRedisStore(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}
