package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	metrics := NewMetricsService()

	metrics.RecordCacheOperation(true, time.Millisecond)
	metrics.RecordCacheOperation(true, time.Millisecond)
	metrics.RecordCacheOperation(false, time.Millisecond)
	metrics.ObserveDBQuery("roster_class_student_owner", 4*time.Millisecond)
	metrics.ObserveDBQuery("roster_class_student_owner", 2*time.Millisecond)
	metrics.ObservePasswordHash(10 * time.Millisecond)
	metrics.RecordMembershipChange("class_student", "join")

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(2), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
	assert.InDelta(t, 2.0/3.0, snapshot.CacheHitRatio, 1e-9)
	assert.Equal(t, uint64(2), snapshot.DBQueryCount)
	assert.InDelta(t, 3.0, snapshot.AverageDBQueryMs, 1e-9)
	assert.Equal(t, uint64(1), snapshot.PasswordHashCount)
	assert.InDelta(t, 10.0, snapshot.AveragePasswordHashMs, 1e-9)
	assert.Equal(t, uint64(1), snapshot.MembershipChanges)

	assert.InDelta(t, 2.0/3.0, testutil.ToFloat64(metrics.cacheHitRatio), 1e-9)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.membershipChanges.WithLabelValues("class_student", "join")))
}

func TestMetricsServiceRegistry(t *testing.T) {
	metrics := NewMetricsService()
	metrics.ObserveDBQuery("q", time.Millisecond)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "db_query_duration_seconds")
	assert.Contains(t, names, "goroutines_total")
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var metrics *MetricsService
	metrics.RecordCacheOperation(true, time.Millisecond)
	metrics.ObserveDBQuery("q", time.Millisecond)
	metrics.ObservePasswordHash(time.Millisecond)
	metrics.RecordMembershipChange("class_student", "join")
	assert.Nil(t, metrics.Registry())
	assert.Zero(t, metrics.Snapshot().CacheHits)
}
