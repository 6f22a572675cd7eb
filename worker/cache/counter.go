// Package cache implements the shared Redis counter backend.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"imgbatch/internal/counter"
)

const (
	DefaultKey     = "imgbatch:counter"
	DefaultChannel = "imgbatch:counter:updates"

	fieldFiles   = "total_files"
	fieldBytes   = "total_size_bytes"
	fieldUpdated = "last_updated"
)

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisCounter keeps the totals in one hash and publishes every change.
type RedisCounter struct {
	client  *redis.Client
	key     string
	channel string
	logger  *zap.Logger
}

func NewRedisCounter(client *redis.Client, key, channel string, logger *zap.Logger) *RedisCounter {
	if key == "" {
		key = DefaultKey
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisCounter{client: client, key: key, channel: channel, logger: logger}
}

func (c *RedisCounter) Get(ctx context.Context) (counter.Counts, error) {
	fields, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return counter.Counts{}, fmt.Errorf("read counter: %w", err)
	}
	return parseCounts(fields), nil
}

func (c *RedisCounter) Increment(ctx context.Context, files, sizeBytes int64) (counter.Counts, error) {
	var all *redis.MapStringStringCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, c.key, fieldFiles, files)
		p.HIncrBy(ctx, c.key, fieldBytes, sizeBytes)
		p.HSet(ctx, c.key, fieldUpdated, time.Now().UTC().Format(time.RFC3339Nano))
		all = p.HGetAll(ctx, c.key)
		return nil
	})
	if err != nil {
		return counter.Counts{}, fmt.Errorf("increment counter: %w", err)
	}

	counts := parseCounts(all.Val())
	c.publish(ctx, counts)
	return counts, nil
}

func (c *RedisCounter) Reset(ctx context.Context) (counter.Counts, error) {
	counts := counter.Zero()
	err := c.client.HSet(ctx, c.key,
		fieldFiles, 0,
		fieldBytes, 0,
		fieldUpdated, counts.LastUpdated.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return counter.Counts{}, fmt.Errorf("reset counter: %w", err)
	}
	c.publish(ctx, counts)
	return counts, nil
}

func (c *RedisCounter) publish(ctx context.Context, counts counter.Counts) {
	payload, err := json.Marshal(counts)
	if err != nil {
		return
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		c.logger.Warn("Failed to publish counter update", zap.Error(err))
	}
}

// Subscribe calls fn for every published update until ctx is done or the
// subscription is closed.
func (c *RedisCounter) Subscribe(ctx context.Context, fn func(counter.Counts)) (counter.Subscription, error) {
	ps := c.client.Subscribe(ctx, c.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", c.channel, err)
	}

	sub := &subscription{ps: ps, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				counts, err := DecodeCounts([]byte(msg.Payload))
				if err != nil {
					c.logger.Warn("Dropping malformed counter update", zap.Error(err))
					continue
				}
				fn(counts)
			}
		}
	}()
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	once sync.Once
	done chan struct{}
	err  error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() { s.err = s.ps.Close() })
	return s.err
}

// DecodeCounts parses a published update.
func DecodeCounts(payload []byte) (counter.Counts, error) {
	var counts counter.Counts
	if err := json.Unmarshal(payload, &counts); err != nil {
		return counter.Counts{}, fmt.Errorf("decode counts: %w", err)
	}
	return counts, nil
}

func parseCounts(fields map[string]string) counter.Counts {
	var c counter.Counts
	c.TotalFiles, _ = strconv.ParseInt(fields[fieldFiles], 10, 64)
	c.TotalSizeBytes, _ = strconv.ParseInt(fields[fieldBytes], 10, 64)
	if t, err := time.Parse(time.RFC3339Nano, fields[fieldUpdated]); err == nil {
		c.LastUpdated = t
	}
	return c
}
