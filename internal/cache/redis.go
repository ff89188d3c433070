package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oggyb/chaperone/internal/config"
)

// CounterTTL is how long a cached counter lives without being read.
const CounterTTL = time.Hour

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}

// KeyForLikesReceived generates Redis key for a principal's pending-likes counter
func (c *RedisCache) KeyForLikesReceived(userID uint64) string {
	return fmt.Sprintf("likes:received:count:%d", userID)
}

// KeyForUnread generates Redis key for an account's unread-conversations counter
func (c *RedisCache) KeyForUnread(accountID uint64) string {
	return fmt.Sprintf("unread:count:%d", accountID)
}

// ChannelForUser is the pub/sub channel carrying notifications for one account.
func (c *RedisCache) ChannelForUser(userID uint64) string {
	return fmt.Sprintf("notify:%d", userID)
}

// ChannelForConnection is the pub/sub channel carrying new messages of a connection.
func (c *RedisCache) ChannelForConnection(connectionID uint64) string {
	return fmt.Sprintf("conversation:%d", connectionID)
}

// GetCounter returns the cached value and whether it was present.
// A hit refreshes the TTL since the owner is active.
func (c *RedisCache) GetCounter(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil // cache miss
	} else if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// garbage in the slot counts as a miss
		return 0, false, nil
	}
	_ = c.Client.Expire(ctx, key, CounterTTL).Err()
	return n, true, nil
}

// Counter is the cache-first read used by every counter endpoint:
//  1. Attempts to read from Redis.
//  2. On miss or Redis failure, falls back to load.
//  3. Stores the loaded value with a 1h TTL, unless Invalidate ran for key
//     while load was in flight.
func (c *RedisCache) Counter(ctx context.Context, key string, load func(context.Context) (int64, error)) (int64, error) {
	if n, ok, err := c.GetCounter(ctx, key); err == nil && ok {
		return n, nil
	}

	gen, genErr := c.generation(ctx, c.Client, key)

	n, err := load(ctx)
	if err != nil {
		return 0, err
	}
	if genErr == nil {
		_ = c.fillCounter(ctx, key, gen, n)
	}
	return n, nil
}

// Invalidate drops cached counters and bumps their generation, so a fill
// racing with this call does not write the old value back.
func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, key := range keys {
			p.Incr(ctx, generationKey(key))
			p.Expire(ctx, generationKey(key), CounterTTL)
			p.Del(ctx, key)
		}
		return nil
	})
	return err
}

func (c *RedisCache) fillCounter(ctx context.Context, key string, gen, n int64) error {
	err := c.Client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := c.generation(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleCounter
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, n, CounterTTL)
			return nil
		})
		return err
	}, generationKey(key))
	if errors.Is(err, errStaleCounter) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

var errStaleCounter = errors.New("counter invalidated during load")

// stringGetter is satisfied by both *redis.Client and a WATCH transaction.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *RedisCache) generation(ctx context.Context, r stringGetter, key string) (int64, error) {
	gen, err := r.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func generationKey(key string) string {
	return key + ":gen"
}

// Publish sends payload to every subscriber of channel.
func (c *RedisCache) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.Client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription and waits for the server confirmation, so a
// message published right after Subscribe returns is not lost.
func (c *RedisCache) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	ps := c.Client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return ps, nil
}
