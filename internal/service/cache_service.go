package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

const rosterKeyPrefix = "roster"

// CacheRepository is the backing store for cached rosters.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
}

// CacheService is the cache-aside front for roster lists. Every invalidation
// advances an epoch; a fill started before the latest invalidation is
// discarded, so a slow reader cannot put back a roster that a concurrent
// writer in this process has just dropped.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool

	epoch atomic.Uint64
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled reports whether reads and fills reach the backing store.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Epoch returns the invalidation counter. Take it before loading a roster
// from the database and hand it to Fill.
func (s *CacheService) Epoch() uint64 {
	if s == nil {
		return 0
	}
	return s.epoch.Load()
}

// Get reads key into dest and reports whether it was a hit. Backend failures
// are logged and returned; callers treat them as a miss.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		return false, nil
	default:
		s.logger.Warn("roster cache read failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
}

// Set stores value under key unconditionally. A zero ttl uses the default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	return s.put(ctx, key, value, ttl)
}

// Fill stores a freshly loaded roster unless an invalidation happened after
// epoch was taken. It reports whether the value was written.
func (s *CacheService) Fill(ctx context.Context, key string, value interface{}, epoch uint64) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	if s.epoch.Load() != epoch {
		s.logger.Debug("skipping stale roster fill", zap.String("key", key))
		return false, nil
	}
	if err := s.put(ctx, key, value, 0); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CacheService) put(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("roster cache write failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Delete drops the given keys.
func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	if s == nil || len(keys) == 0 {
		return nil
	}
	s.epoch.Add(1)
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.logger.Warn("roster cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}

// Invalidate drops every key matching the glob pattern and returns how many
// were removed.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) (int, error) {
	if s == nil {
		return 0, nil
	}
	s.epoch.Add(1)
	if !s.Enabled() {
		return 0, nil
	}
	removed, err := s.repo.DeleteByPattern(ctx, pattern)
	if err != nil {
		s.logger.Warn("roster cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return removed, err
	}
	return removed, nil
}

// InvalidateRosters drops every cached roster. Entity deletes cascade through
// junctions in ways a single key cannot describe.
func (s *CacheService) InvalidateRosters(ctx context.Context) error {
	_, err := s.Invalidate(ctx, rosterKeyPrefix+":*")
	return err
}

// rosterKey builds the cache key of one side of a junction, e.g.
// roster:class_student:owner:7 for the students of class 7.
func rosterKey(junction, side string, id int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", rosterKeyPrefix, strings.ReplaceAll(junction, ":", "|"), side, id)
}
