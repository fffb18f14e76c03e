// Package metrics exposes Prometheus metrics for cache operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by match source (exact, semantic)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semcache_hits_total",
			Help: "The total number of cache hits by match source",
		},
		[]string{"source"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semcache_misses_total",
			Help: "The total number of cache misses",
		},
	)

	// CacheOperationDuration tracks the duration of cache operations by backend and operation type
	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semcache_operation_duration_seconds",
			Help:    "The duration of cache operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "operation"},
	)

	// CacheOperationTotal tracks the total number of cache operations by backend and operation type
	CacheOperationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semcache_operations_total",
			Help: "The total number of cache operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// CacheEntriesTotal tracks the current number of entries in the cache
	CacheEntriesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "semcache_entries_total",
			Help: "The current number of entries in the cache",
		},
	)

	// CacheStorageBytes tracks the occupied cache size in bytes
	CacheStorageBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "semcache_storage_bytes",
			Help: "The occupied cache size in bytes",
		},
	)

	// CacheEvictions tracks removed entries by reason (capacity, expired, invalidate)
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semcache_evictions_total",
			Help: "The total number of evicted entries by reason",
		},
		[]string{"reason"},
	)

	// CacheAdmissionRejections tracks writes dropped by the quality gate
	CacheAdmissionRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semcache_admission_rejections_total",
			Help: "The total number of cache writes rejected by the quality gate",
		},
	)

	// HitSimilarity tracks the similarity score of semantic cache hits
	HitSimilarity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semcache_hit_similarity",
			Help:    "The similarity score distribution of semantic cache hits",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 11),
		},
	)
)

// RecordCacheHit records a cache hit for the given match source.
func RecordCacheHit(source string) {
	CacheHits.WithLabelValues(source).Inc()
}

// RecordCacheMiss records a cache miss.
func RecordCacheMiss() {
	CacheMisses.Inc()
}

// RecordCacheOperation records a cache operation with duration and status.
func RecordCacheOperation(backend, operation, status string, duration float64) {
	CacheOperationDuration.WithLabelValues(backend, operation).Observe(duration)
	CacheOperationTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordEviction records removed entries with the reason they were removed.
func RecordEviction(reason string, count int) {
	if count > 0 {
		CacheEvictions.WithLabelValues(reason).Add(float64(count))
	}
}

// RecordAdmissionRejection records a write dropped by the quality gate.
func RecordAdmissionRejection() {
	CacheAdmissionRejections.Inc()
}

// RecordHitSimilarity records the similarity score of a semantic hit.
func RecordHitSimilarity(similarity float64) {
	HitSimilarity.Observe(similarity)
}

// UpdateCacheEntries updates the current number of cache entries.
func UpdateCacheEntries(count int) {
	CacheEntriesTotal.Set(float64(count))
}

// UpdateCacheStorage updates the occupied cache size gauge.
func UpdateCacheStorage(bytes int64) {
	CacheStorageBytes.Set(float64(bytes))
}
