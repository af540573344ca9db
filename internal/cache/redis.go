package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/events"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Prefix        string
	MaxValueBytes int
	Logger        *logrus.Entry
}

// RedisCache keeps values under a key prefix and announces writes on a pub/sub
// channel, so every process sharing the server behaves like a tab of one area.
type RedisCache struct {
	rdb      *redis.Client
	prefix   string
	maxValue int
	origin   string
	log      *logrus.Entry

	bus    events.Bus[Change]
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisCache subscribes to the change channel before returning.
func NewRedisCache(ctx context.Context, rdb *redis.Client, opts RedisOptions) (*RedisCache, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	c := &RedisCache{
		rdb:      rdb,
		prefix:   opts.Prefix,
		maxValue: opts.MaxValueBytes,
		origin:   uuid.NewString(),
		log:      log,
		done:     make(chan struct{}),
	}
	c.pubsub = rdb.Subscribe(ctx, c.channel())
	if _, err := c.pubsub.Receive(ctx); err != nil {
		_ = c.pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", c.channel(), err)
	}
	go c.listen()
	return c, nil
}

// Origin identifies this handle in change notifications.
func (c *RedisCache) Origin() string { return c.origin }

func (c *RedisCache) channel() string { return c.prefix + "changes" }

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.LogWarn(c.log, "Get", key, err)
		}
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string) error {
	if c.maxValue > 0 && len(value) > c.maxValue {
		return ErrQuotaExceeded
	}
	return c.write(ctx, Change{Key: key, Value: value, Origin: c.origin}, func(p redis.Pipeliner) {
		p.Set(ctx, c.prefix+key, value, 0)
	})
}

func (c *RedisCache) Remove(ctx context.Context, key string) error {
	return c.write(ctx, Change{Key: key, Removed: true, Origin: c.origin}, func(p redis.Pipeliner) {
		p.Del(ctx, c.prefix+key)
	})
}

func (c *RedisCache) write(ctx context.Context, ch Change, op func(redis.Pipeliner)) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		op(p)
		p.Publish(ctx, c.channel(), payload)
		return nil
	})
	if err != nil {
		if strings.HasPrefix(err.Error(), "OOM ") {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("cache write %s: %w", ch.Key, err)
	}
	return nil
}

func (c *RedisCache) Subscribe(fn func(Change)) func() {
	return c.bus.Subscribe(fn)
}

func (c *RedisCache) listen() {
	defer close(c.done)
	for msg := range c.pubsub.Channel() {
		var ch Change
		if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
			logging.LogWarn(c.log, "listen", "decode change", err)
			continue
		}
		if ch.Origin == c.origin {
			continue
		}
		c.bus.Publish(ch)
	}
}

// Close stops listening for changes. The redis client is left open.
func (c *RedisCache) Close() error {
	err := c.pubsub.Close()
	<-c.done
	return err
}
