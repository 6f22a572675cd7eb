package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"imgbatch/internal/counter"
)

const (
	countsKey      = "counterd:counts"
	updatesChannel = "counterd:updates"
	defaultTTL     = 5 * time.Minute
)

var ErrMiss = errors.New("cache miss")

// CountsCache holds the latest totals in Redis and fans updates out to every
// replica subscribed to the updates channel.
type CountsCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCountsCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *CountsCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CountsCache{client: client, ttl: ttl, logger: logger}
}

func (c *CountsCache) Get(ctx context.Context) (counter.Counts, error) {
	data, err := c.client.Get(ctx, countsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return counter.Counts{}, ErrMiss
	}
	if err != nil {
		return counter.Counts{}, err
	}

	var counts counter.Counts
	if err := json.Unmarshal(data, &counts); err != nil {
		return counter.Counts{}, fmt.Errorf("decode cached counts: %w", err)
	}
	return counts, nil
}

func (c *CountsCache) Set(ctx context.Context, counts counter.Counts) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, countsKey, data, c.ttl).Err()
}

func (c *CountsCache) Delete(ctx context.Context) error {
	return c.client.Del(ctx, countsKey).Err()
}

// Publish announces new totals to every replica.
func (c *CountsCache) Publish(ctx context.Context, counts counter.Counts) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, updatesChannel, data).Err()
}

// Listen calls fn for every published update until ctx is done.
func (c *CountsCache) Listen(ctx context.Context, fn func(counter.Counts)) error {
	pubsub := c.client.Subscribe(ctx, updatesChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", updatesChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var counts counter.Counts
			if err := json.Unmarshal([]byte(msg.Payload), &counts); err != nil {
				c.logger.Warn("Dropping malformed counter update", zap.Error(err))
				continue
			}
			fn(counts)
		}
	}
}

func (c *CountsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
