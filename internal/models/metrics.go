package models

import "time"

// StoreMetrics is a point-in-time summary of store instrumentation.
type StoreMetrics struct {
	CacheHitRatio         float64   `json:"cache_hit_ratio"`
	CacheHits             uint64    `json:"cache_hits"`
	CacheMisses           uint64    `json:"cache_misses"`
	DBQueryCount          uint64    `json:"db_query_count"`
	AverageDBQueryMs      float64   `json:"average_db_query_ms"`
	PasswordHashCount     uint64    `json:"password_hash_count"`
	AveragePasswordHashMs float64   `json:"average_password_hash_ms"`
	MembershipChanges     uint64    `json:"membership_changes"`
	Goroutines            int       `json:"goroutines"`
	GeneratedAt           time.Time `json:"generated_at"`
}
