package redis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/pkg/logger"
)

const (
	responsePrefix  = "graphrag:response:"
	hitsPrefix      = "graphrag:hits:"
	embeddingPrefix = "graphrag:embedding:"
	statHits        = "graphrag:stats:hits"
	statMisses      = "graphrag:stats:misses"
)

// Client is a Redis-backed response cache and embedding store. Expiry and
// eviction are delegated to Redis (TTL plus the server's maxmemory policy).
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return NewFromClient(client, ttl), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{client: client, ttl: ttl}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached entry and bumps its hit count.
func (c *Client) Get(ctx context.Context, key string) (*models.CacheEntry, bool) {
	data, err := c.client.Get(ctx, responsePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.client.Incr(ctx, statMisses)
		return nil, false
	}
	if err != nil {
		logger.Warn("Failed to get cached response", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logger.Warn("Failed to unmarshal cached response", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	pipe := c.client.TxPipeline()
	hits := pipe.Incr(ctx, hitsPrefix+key)
	pipe.Expire(ctx, hitsPrefix+key, c.ttl)
	pipe.Incr(ctx, statHits)
	if _, err := pipe.Exec(ctx); err == nil {
		entry.HitCount = hits.Val()
	}
	entry.LastAccessed = time.Now()

	logger.Debug("Response cache hit", zap.String("key", key), zap.Int64("hits", entry.HitCount))
	return &entry, true
}

func (c *Client) Set(ctx context.Context, entry *models.CacheEntry) {
	if entry == nil || entry.Key == "" {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		logger.Warn("Failed to marshal response", zap.String("key", entry.Key), zap.Error(err))
		return
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, responsePrefix+entry.Key, data, c.ttl)
	pipe.Del(ctx, hitsPrefix+entry.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("Failed to cache response", zap.String("key", entry.Key), zap.Error(err))
		return
	}
	logger.Debug("Response cached", zap.String("key", entry.Key), zap.Duration("ttl", c.ttl))
}

func (c *Client) Delete(ctx context.Context, key string) {
	c.client.Del(ctx, responsePrefix+key, hitsPrefix+key)
}

// Clear removes every cached response.
func (c *Client) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, responsePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}
	logger.Info("Response cache cleared")
	return nil
}

func (c *Client) Stats(ctx context.Context) models.CacheStats {
	var stats models.CacheStats
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, responsePrefix+"*", 100).Result()
		if err != nil {
			break
		}
		stats.Size += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	stats.Hits, _ = c.client.Get(ctx, statHits).Int64()
	stats.Misses, _ = c.client.Get(ctx, statMisses).Int64()
	return stats
}

// GetEmbedding reads a cached vector stored as little-endian float32s.
func (c *Client) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}
	if len(data)%4 != 0 {
		return nil, false, fmt.Errorf("invalid embedding cache data: len=%d", len(data))
	}

	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, true, nil
}

// SetEmbedding stores a vector with no expiry; embeddings are deterministic
// per text and model.
func (c *Client) SetEmbedding(ctx context.Context, key string, vec []float32) error {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	if err := c.client.Set(ctx, embeddingPrefix+key, buf, 0).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}
	return nil
}
