package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisClient connects to CALLSCOPE_TEST_REDIS or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("CALLSCOPE_TEST_REDIS")
	if addr == "" {
		t.Skip("CALLSCOPE_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestNewToken_Unique(t *testing.T) {
	a, b := newToken(), newToken()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestLock_ExclusiveUntilUnlocked(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	key := "callscope:test:lock:" + newToken()

	first := NewLock(client, key, time.Second)
	second := NewLock(client, key, time.Second)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	err = second.Acquire(ctx, 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, second.Unlock(ctx), ErrNotHeld)

	require.NoError(t, first.Unlock(ctx))
	require.NoError(t, second.Acquire(ctx, time.Second))
	require.NoError(t, second.Unlock(ctx))
}

func TestWithLock_RenewsLongHolds(t *testing.T) {
	client := redisClient(t)
	key := "callscope:test:lock:" + newToken()

	err := WithLock(context.Background(), client, key, 200*time.Millisecond, time.Second, func(ctx context.Context) error {
		time.Sleep(500 * time.Millisecond)
		exists, err := client.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.EqualValues(t, 1, exists, "renewal keeps the lease alive")
		return nil
	})
	require.NoError(t, err)

	exists, err := client.Exists(context.Background(), key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, exists)
}
