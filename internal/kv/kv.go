// Package kv wraps a Redis client behind the narrow interface the rest
// of the service depends on: JSON get/set, hash operations, prefix
// scan, and pub/sub. Every call degrades gracefully — a broker outage
// becomes a cache miss or an empty subscriber list, never a request
// failure, matching the store's role as a best-effort accelerant rather
// than a system of record.
package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Store is the interface the rest of the service programs against, so
// tests can inject a miniredis-backed or in-memory client.
type Store interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashSet(ctx context.Context, key, field, value string) error
	HashIncrementBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HashDelete(ctx context.Context, key string) error

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func())
}

// Client implements Store over a real Redis connection.
type Client struct {
	rdb *redis.Client
	log *logrus.Entry
}

// New dials redisURL (a redis:// connection string) and returns a Client.
// It does not block on a successful PING; transient unavailability at
// startup is tolerated the same way it is at request time.
func New(redisURL string, log *logrus.Entry) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{rdb: redis.NewClient(opts), log: log.WithField("component", "kv")}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Raw exposes the underlying redis client for components (the named
// queues) that need primitives kv.Store doesn't expose, such as
// BRPOP/LPUSH on an arbitrary list key.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Ping reports whether the broker answered within ctx's deadline. Used
// by the readiness probe; callers should not treat a failure here as
// fatal to the request in flight.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.log.WithError(err).WithField("key", key).Debug("get: cache miss (broker error)")
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Debug("set: dropped (broker error)")
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.WithError(err).Debug("delete: ignored (broker error)")
	}
	return nil
}

func (c *Client) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.WithError(err).Debug("scan: partial results (broker error)")
	}
	return keys, nil
}

func (c *Client) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		c.log.WithError(err).WithField("key", key).Debug("hgetall: empty (broker error)")
		return map[string]string{}, nil
	}
	return m, nil
}

func (c *Client) HashSet(ctx context.Context, key, field, value string) error {
	if err := c.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		c.log.WithError(err).Debug("hset: dropped (broker error)")
	}
	return nil
}

func (c *Client) HashIncrementBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := c.rdb.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		c.log.WithError(err).Debug("hincrby: treated as no-op (broker error)")
		return 0, nil
	}
	return n, nil
}

func (c *Client) HashDelete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.log.WithError(err).Debug("hash delete: ignored (broker error)")
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		c.log.WithError(err).Debug("publish: no listeners reachable (broker error)")
	}
	return nil
}

// Subscribe returns a channel of raw message payloads and an unsubscribe
// function. The returned channel is closed once unsubscribe is called or
// ctx is canceled.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	sub := c.rdb.Subscribe(ctx, channel)
	out := make(chan []byte, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-done:
					return
				}
			}
		}
	}()

	var closeOnce bool
	cancel := func() {
		if closeOnce {
			return
		}
		closeOnce = true
		close(done)
		_ = sub.Close()
	}
	return out, cancel
}
