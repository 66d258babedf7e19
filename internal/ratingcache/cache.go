// Package ratingcache keeps per-tutor rating facts in Redis.
package ratingcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zbnerd/TutorFlow/internal/domain"
)

// Cache is a read-through cache of TutorRating values
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// Connect creates a client for addr and pings it. Callers run without a cache on error.
func Connect(ctx context.Context, addr, password string, db int, ttl time.Duration, log *slog.Logger) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(rdb, ttl, log), nil
}

// New wraps an existing client
func New(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

func key(tutorID int64) string {
	return fmt.Sprintf("tutor:%d:rating", tutorID)
}

// Get returns the cached rating, or nil on a miss
func (c *Cache) Get(ctx context.Context, tutorID int64) (*domain.TutorRating, error) {
	raw, err := c.rdb.Get(ctx, key(tutorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rating cache: %w", err)
	}

	var r domain.TutorRating
	if err := json.Unmarshal(raw, &r); err != nil {
		c.log.WarnContext(ctx, "dropping undecodable cached rating", "tutor_id", tutorID, "error", err)
		c.rdb.Del(ctx, key(tutorID))
		return nil, nil
	}
	return &r, nil
}

// Set stores r until the TTL expires
func (c *Cache) Set(ctx context.Context, r *domain.TutorRating) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode rating: %w", err)
	}
	if err := c.rdb.Set(ctx, key(r.TutorID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write rating cache: %w", err)
	}
	return nil
}

// Invalidate removes the cached rating of tutorID
func (c *Cache) Invalidate(ctx context.Context, tutorID int64) error {
	if err := c.rdb.Del(ctx, key(tutorID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate rating cache: %w", err)
	}
	return nil
}

// Close releases the client
func (c *Cache) Close() error {
	return c.rdb.Close()
}
