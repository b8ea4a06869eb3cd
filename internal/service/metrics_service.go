package service

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/labroster/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the store and
// keeps lightweight counters for snapshots.
type MetricsService struct {
	registry          *prometheus.Registry
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHitRatio     prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	dbQueryDuration   *prometheus.HistogramVec
	hashDuration      prometheus.Histogram
	membershipChanges *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	hashCount            uint64
	hashDurationTotal    uint64
	membershipCount      uint64
}

// NewMetricsService registers the store collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	hashDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "password_hash_duration_seconds",
		Help:    "Duration of password hash and verify computations",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	membershipChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_changes_total",
		Help: "Total membership joins and leaves",
	}, []string{"junction", "op"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration, hashDuration, membershipChanges, goroutines)

	return &MetricsService{
		registry:          registry,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		dbQueryDuration:   dbQueryDuration,
		hashDuration:      hashDuration,
		membershipChanges: membershipChanges,
	}
}

// Registry exposes the Prometheus registry so a host process can serve it.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// ObservePasswordHash records the duration of one hash or verify.
func (m *MetricsService) ObservePasswordHash(duration time.Duration) {
	if m == nil {
		return
	}
	m.hashDuration.Observe(duration.Seconds())
	atomic.AddUint64(&m.hashCount, 1)
	atomic.AddUint64(&m.hashDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordMembershipChange counts a join or leave on a junction.
func (m *MetricsService) RecordMembershipChange(junction, op string) {
	if m == nil {
		return
	}
	m.membershipChanges.WithLabelValues(junction, op).Inc()
	atomic.AddUint64(&m.membershipCount, 1)
}

// Snapshot returns aggregated metrics.
func (m *MetricsService) Snapshot() models.StoreMetrics {
	if m == nil {
		return models.StoreMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)
	hashCount := atomic.LoadUint64(&m.hashCount)
	hashDuration := atomic.LoadUint64(&m.hashDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	var avgHashMs float64
	if hashCount > 0 {
		avgHashMs = float64(hashDuration) / float64(hashCount) / float64(time.Millisecond)
	}

	return models.StoreMetrics{
		CacheHitRatio:         cacheRatio,
		CacheHits:             hits,
		CacheMisses:           misses,
		DBQueryCount:          dbCount,
		AverageDBQueryMs:      avgDBMs,
		PasswordHashCount:     hashCount,
		AveragePasswordHashMs: avgHashMs,
		MembershipChanges:     atomic.LoadUint64(&m.membershipCount),
		Goroutines:            runtime.NumGoroutine(),
		GeneratedAt:           time.Now().UTC(),
	}
}
