package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/chaperone/internal/cache"
	"github.com/oggyb/chaperone/internal/config"
)

func newCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestCounterCacheFirst(t *testing.T) {
	ctx := context.Background()
	rc, mr := newCache(t)
	key := rc.KeyForLikesReceived(42)
	assert.Equal(t, "likes:received:count:42", key)

	loads := 0
	load := func(context.Context) (int64, error) {
		loads++
		return 7, nil
	}

	n, err := rc.Counter(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = rc.Counter(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, 1, loads, "second read must be served from Redis")
	assert.Equal(t, cache.CounterTTL, mr.TTL(key))

	require.NoError(t, rc.Invalidate(ctx, key))
	assert.False(t, mr.Exists(key))
	_, err = rc.Counter(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestCounterSkipsFillInvalidatedDuringLoad(t *testing.T) {
	ctx := context.Background()
	rc, mr := newCache(t)
	key := rc.KeyForUnread(5)

	loads := 0
	n, err := rc.Counter(ctx, key, func(ctx context.Context) (int64, error) {
		loads++
		// a writer commits and invalidates after the count was read
		require.NoError(t, rc.Invalidate(ctx, key))
		return 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.False(t, mr.Exists(key), "stale value must not be cached")
	assert.True(t, mr.Exists(key+":gen"))

	n, err = rc.Counter(ctx, key, func(context.Context) (int64, error) {
		loads++
		return 4, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, 2, loads)

	got, ok, err := rc.GetCounter(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), got)
}

func TestCounterLoadError(t *testing.T) {
	rc, mr := newCache(t)
	boom := errors.New("db down")

	_, err := rc.Counter(context.Background(), rc.KeyForUnread(1), func(context.Context) (int64, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(rc.KeyForUnread(1)))
}

func TestGetCounterGarbageIsMiss(t *testing.T) {
	ctx := context.Background()
	rc, mr := newCache(t)
	require.NoError(t, mr.Set("unread:count:3", "not-a-number"))

	_, ok, err := rc.GetCounter(ctx, rc.KeyForUnread(3))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rc, _ := newCache(t)

	channel := rc.ChannelForConnection(9)
	ps, err := rc.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, rc.Publish(ctx, channel, []byte(`{"id":1}`)))

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "conversation:9", msg.Channel)
	assert.JSONEq(t, `{"id":1}`, msg.Payload)
}
