// Package draftcache keeps unsaved editing-session state in Redis so that a
// restart of the server does not lose a user's drafts.
package draftcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Simplici0/pricebook/internal/session"
)

const keyPrefix = "pricing:session:"

// Options describes the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// MaxWait bounds the connection retries at startup.
	MaxWait time.Duration
}

// Connect opens a Redis client and retries the first ping with exponential
// backoff until it answers or MaxWait elapses.
func Connect(ctx context.Context, opts Options, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = opts.MaxWait
	retryPolicy.MaxInterval = 5 * time.Second

	logger.Info("connecting to redis", zap.String("addr", opts.Addr))

	err := backoff.RetryNotify(
		func() error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
		backoff.WithContext(retryPolicy, ctx),
		func(err error, next time.Duration) {
			logger.Warn("redis connection failed, retrying",
				zap.Error(err),
				zap.Duration("next_attempt_in", next))
		},
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	return client, nil
}

var _ session.Snapshotter = (*Cache)(nil)

// Cache stores session snapshots as JSON with a TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func key(id string) string {
	return keyPrefix + id
}

// Save writes the snapshot and refreshes its TTL.
func (c *Cache) Save(ctx context.Context, snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key(snap.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Load returns the snapshot for id. The bool is false when none is stored.
func (c *Cache) Load(ctx context.Context, id string) (session.Snapshot, bool, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Snapshot{}, false, nil
	}
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("get snapshot %s: %w", id, err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return session.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snap, true, nil
}

// Delete removes the snapshot for id.
func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}
