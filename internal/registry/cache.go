package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openregister/openregister/internal/db/models"
)

const defaultSchemaCacheTTL = 5 * time.Minute

// RedisSchemaCache caches resolved schemas as JSON, reachable by both UUID
// and slug, so that validating an object does not hit the relational store
// for every $ref
type RedisSchemaCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisSchemaCache creates a cache on client. ttl <= 0 selects five minutes.
func NewRedisSchemaCache(client *redis.Client, ttl time.Duration) *RedisSchemaCache {
	if ttl <= 0 {
		ttl = defaultSchemaCacheTTL
	}
	return &RedisSchemaCache{client: client, ttl: ttl, prefix: "openregister:schema:"}
}

func (c *RedisSchemaCache) key(ref string) string {
	return c.prefix + ref
}

// Get returns the cached schema for a UUID or slug, or (nil, nil) on a miss
func (c *RedisSchemaCache) Get(ctx context.Context, ref string) (*models.Schema, error) {
	data, err := c.client.Get(ctx, c.key(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema cache: %w", err)
	}
	var sch models.Schema
	if err := json.Unmarshal(data, &sch); err != nil {
		// A value written by an older layout is treated as a miss.
		return nil, nil
	}
	return &sch, nil
}

// Set stores the schema under its UUID and its slug
func (c *RedisSchemaCache) Set(ctx context.Context, s *models.Schema) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(s.UUID), data, c.ttl)
		pipe.Set(ctx, c.key(s.Slug), data, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write schema cache: %w", err)
	}
	return nil
}

// Invalidate drops both entries of the schema
func (c *RedisSchemaCache) Invalidate(ctx context.Context, s *models.Schema) error {
	if err := c.client.Del(ctx, c.key(s.UUID), c.key(s.Slug)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate schema cache: %w", err)
	}
	return nil
}
