package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/core/llm"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/metrics"
)

var _ core.QueryCache = (*RedisQueryCache)(nil)

// RedisQueryCache stores query embeddings as little-endian float32 blobs.
// Redis errors are logged and treated as misses.
type RedisQueryCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisQueryCache(ctx context.Context, addr string, db int, ttl time.Duration) (*RedisQueryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  addr,
		DB:                    db,
		ContextTimeoutEnabled: true,
		ReadTimeout:           2 * time.Second,
		WriteTimeout:          2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *RedisQueryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisQueryCache{client: client, ttl: ttl, log: logger.New("query_cache")}
}

func Key(model, query string) string {
	sum := sha256.Sum256([]byte(query))
	return "kbq:" + model + ":" + hex.EncodeToString(sum[:])
}

func (c *RedisQueryCache) Get(ctx context.Context, model, query string) ([]float32, bool) {
	blob, err := c.client.Get(ctx, Key(model, query)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.QueryCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		c.log.Warn("query cache read failed", "error", err)
		metrics.QueryCacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	if len(blob) == 0 || len(blob)%4 != 0 {
		c.log.Warn("discarding malformed cache entry", "bytes", len(blob))
		metrics.QueryCacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	metrics.QueryCacheLookups.WithLabelValues("hit").Inc()
	return llm.DeserializeVector(blob), true
}

func (c *RedisQueryCache) Set(ctx context.Context, model, query string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if err := c.client.Set(ctx, Key(model, query), llm.SerializeVector(vec), c.ttl).Err(); err != nil {
		c.log.Warn("query cache write failed", "error", err)
	}
}

func (c *RedisQueryCache) Close() error {
	return c.client.Close()
}
