package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

const (
	// cacheNamespace keeps roster keys apart from other tenants of a shared
	// Redis database.
	cacheNamespace = "labroster:"
	// cacheFormat is bumped whenever a cached model changes shape. Entries of
	// another format are dropped on read.
	cacheFormat = 1

	scanBatch = 100
)

type cacheEntry struct {
	Format   int             `json:"f"`
	CachedAt time.Time       `json:"at"`
	Data     json.RawMessage `json:"d"`
}

// CacheRepository stores roster payloads in Redis as versioned JSON
// envelopes. A nil client turns every call into a miss or a no-op.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Get decodes the payload stored under key into dest. Missing, expired and
// outdated entries all report ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, cacheNamespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return appErrors.ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := decodeEntry(raw, dest); err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			r.logger.Debug("dropping outdated cache entry", zap.String("key", key))
			_ = r.client.Unlink(ctx, cacheNamespace+key).Err()
		}
		return err
	}
	return nil
}

// Set stores value under key for ttl.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := encodeEntry(value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := r.client.Set(ctx, cacheNamespace+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete unlinks the given keys.
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil || len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, key := range keys {
		namespaced[i] = cacheNamespace + key
	}
	if err := r.client.Unlink(ctx, namespaced...).Err(); err != nil {
		return fmt.Errorf("redis unlink %v: %w", keys, err)
	}
	return nil
}

// DeleteByPattern unlinks every key matching the glob pattern and reports how
// many were removed. Keys are collected with SCAN and unlinked one batch per
// round trip.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if r.client == nil {
		return 0, nil
	}

	var (
		removed int
		cursor  uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, cacheNamespace+pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := r.client.Unlink(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis unlink %s: %w", pattern, err)
			}
			removed += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	r.logger.Debug("cache entries removed", zap.String("pattern", pattern), zap.Int("count", removed))
	return removed, nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func encodeEntry(value interface{}, at time.Time) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cacheEntry{Format: cacheFormat, CachedAt: at, Data: data})
}

func decodeEntry(raw []byte, dest interface{}) error {
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Format != cacheFormat {
		return appErrors.ErrCacheMiss
	}
	if err := json.Unmarshal(entry.Data, dest); err != nil {
		return fmt.Errorf("decode cache entry: %w", err)
	}
	return nil
}
