package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping redis integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisSet(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	t.Run("single claim under contention", func(t *testing.T) {
		s := NewRedisSet(client, "sellflux:claim:", time.Minute)

		var (
			wg      sync.WaitGroup
			claimed atomic.Int32
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.TryAdd(ctx, "TKN1")
				assert.NoError(t, err)
				if ok {
					claimed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), claimed.Load())

		has, err := s.Contains(ctx, "TKN1")
		require.NoError(t, err)
		assert.True(t, has)

		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"TKN1"}, list)

		require.NoError(t, s.Remove(ctx, "TKN1"))
		require.NoError(t, s.Remove(ctx, "TKN1"))
		has, err = s.Contains(ctx, "TKN1")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("claim lapses without refresh", func(t *testing.T) {
		s := NewRedisSet(client, "sellflux:lapse:", time.Second)

		ok, err := s.TryAdd(ctx, "TKN2")
		require.NoError(t, err)
		require.True(t, ok)

		assert.Eventually(t, func() bool {
			has, err := s.Contains(ctx, "TKN2")
			return err == nil && !has
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("refresh extends live claims", func(t *testing.T) {
		s := NewRedisSet(client, "sellflux:refresh:", 2*time.Second)

		ok, err := s.TryAdd(ctx, "TKN3")
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(1200 * time.Millisecond)
		n, err := s.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ttl, err := client.PTTL(ctx, "sellflux:refresh:TKN3").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 1500*time.Millisecond)
	})
}

func TestRegistry_KeepAliveHoldsRedisClaim(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := &fakeJobs{}
	r := New(NewRedisSet(client, "sellflux:keepalive:", time.Second), jobs, discard, nil)
	require.True(t, r.TryStart(ctx, "TKN1", 10, "rec1"))

	go r.KeepAlive(ctx)

	// outlive the TTL several times over
	time.Sleep(3 * time.Second)

	assert.True(t, r.IsActive(ctx, "TKN1"))
	assert.False(t, r.TryStart(ctx, "TKN1", 10, "rec1"))
	assert.Equal(t, int32(1), jobs.starts.Load())

	r.Stop(ctx, "TKN1")
	assert.False(t, r.IsActive(ctx, "TKN1"))
}
