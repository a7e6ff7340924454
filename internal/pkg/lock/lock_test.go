package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/paysettle/internal/pkg/env"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       12,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLockIsExclusive(t *testing.T) {
	rdb := testRedis(t)
	l := New(rdb).WithTries(1)
	ctx := context.Background()
	key := fmt.Sprintf("test:lock:%d", time.Now().UnixNano())

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	_, err = l.Lock(ctx, key)
	assert.Error(t, err, "second holder must not acquire the lock")

	unlock()

	unlock2, err := l.Lock(ctx, key)
	require.NoError(t, err)
	unlock2()
}

func TestLockExpires(t *testing.T) {
	rdb := testRedis(t)
	l := New(rdb).WithTries(1).WithExpiry(200 * time.Millisecond)
	ctx := context.Background()
	key := fmt.Sprintf("test:lock:%d", time.Now().UnixNano())

	_, err := l.Lock(ctx, key)
	require.NoError(t, err)

	time.Sleep(400 * time.Millisecond)
	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)
	unlock()
}

func TestOptionsCopy(t *testing.T) {
	l := &Locker{expiry: DefaultExpiry, tries: DefaultTries}
	c := l.WithTries(1).WithExpiry(time.Second)
	assert.Equal(t, DefaultTries, l.tries)
	assert.Equal(t, 1, c.tries)
	assert.Equal(t, time.Second, c.expiry)
}
