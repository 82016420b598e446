package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/discoverly/edgeschema/internal/schema"
)

// Redis is a Redis-backed metadata cache shared by edge instances.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis cache client.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedis constructs a Redis cache from options.
func NewRedis(opts RedisOptions) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		prefix: opts.KeyPrefix,
	}
}

// Get fetches and decodes the document stored under key.
func (r *Redis) Get(ctx context.Context, key string) (schema.JSONLD, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var doc schema.JSONLD
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return nil, false, fmt.Errorf("decode cached document: %w", err)
	}
	return doc, true, nil
}

// Put stores doc under key as a whole-value replacement. Entries do not
// expire; repopulation happens through the analysis pipeline.
func (r *Redis) Put(ctx context.Context, key string, doc schema.JSONLD) error {
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping verifies connectivity, used by readiness checks.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
