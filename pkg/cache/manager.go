package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neuralcache/semcache/pkg/observability/logging"
	"github.com/neuralcache/semcache/pkg/observability/metrics"
)

// topQueriesLimit bounds the leaderboard returned by Stats.
const topQueriesLimit = 10

// Manager is the caller-facing surface of the cache. It owns the
// normalizer, admission gating, session statistics, and the lifecycle
// of the store and eviction engine. One Manager serves many goroutines.
type Manager struct {
	store  *Store
	engine *Engine

	mu         sync.RWMutex
	cfg        Config
	normalizer *Normalizer

	stats statsCounters

	lastOptimize atomic.Int64 // unix nanos of the last completed pass

	closeOnce sync.Once
}

// statsCounters accumulates session statistics. Counters are atomic so
// the hot path never takes the manager lock; only the top-queries map
// needs one.
type statsCounters struct {
	hits                atomic.Int64
	misses              atomic.Int64
	admissionRejections atomic.Int64

	// similaritySum uses a mutex because float64 has no atomic add
	simMu            sync.Mutex
	similaritySum    float64
	totalTimeSavedMs int64
	totalCostSaved   float64
	missComputeMs    int64

	topMu      sync.Mutex
	topQueries map[string]int64
}

// NewManager builds the full cache stack on the given store and starts
// the background eviction engine.
func NewManager(store *Store, cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store.ApplyConfig(cfg)

	m := &Manager{
		store:      store,
		engine:     NewEngine(store),
		cfg:        cfg,
		normalizer: NewNormalizer(cfg),
	}
	m.stats.topQueries = make(map[string]int64)
	m.engine.Start()

	logging.LogEvent("cache_manager_started", map[string]interface{}{
		"semantic_caching":     cfg.EnableSemanticCaching,
		"similarity_threshold": cfg.SimilarityThreshold,
		"eviction_policy":      string(cfg.EvictionPolicy),
		"max_size_bytes":       cfg.MaxCacheSizeBytes,
	})
	return m, nil
}

// Get resolves a request against the cache. A disabled cache is a
// plain miss, as is a query that normalizes to the empty string; such
// a query carried no content and must never be served. Infrastructure
// failures also degrade to a miss, so Get never blocks the caller's
// generation path on an error.
func (m *Manager) Get(ctx context.Context, req CacheRequest) CacheResult {
	cfg, normalizer := m.snapshot()
	if !cfg.EnableResponseCaching {
		return CacheResult{Source: SourceNone}
	}

	key := normalizer.Normalize(req)
	if key.Normalized == "" {
		return CacheResult{Source: SourceNone}
	}
	hit, err := m.store.Get(ctx, key)
	if err != nil || hit == nil {
		m.recordMiss()
		return CacheResult{Source: SourceNone}
	}

	m.recordHit(hit)

	// Touch synchronously so the recency and relevance bookkeeping the
	// eviction policies score on is current before the next operation.
	if err := m.store.Touch(ctx, hit.Entry.QueryHash, hit.Similarity); err != nil {
		logging.Debugf("Manager: touch failed for %s: %v", hit.Entry.QueryHash, err)
	}

	source := SourceSemantic
	if hit.IsExact {
		source = SourceExact
	}
	return CacheResult{
		Hit:         true,
		Response:    hit.Entry.Response,
		Similarity:  hit.Similarity,
		TimeSavedMs: hit.TimeSavedMs,
		CostSaved:   hit.CostSaved,
		Source:      source,
	}
}

// Set admits a response into the cache. Responses scored below the
// quality floor are rejected without error; rejection is an admission
// decision, not a failure. A zero quality means the caller never
// scored the response, and unscored responses are admitted. Capacity
// is made before the write, so the store never exceeds its size bound.
func (m *Manager) Set(ctx context.Context, req CacheRequest, response []byte, md EntryMetadata) error {
	cfg, normalizer := m.snapshot()
	if !cfg.EnableResponseCaching {
		return ErrCachingDisabled
	}
	key := normalizer.Normalize(req)
	if key.Normalized == "" {
		return ErrEmptyQuery
	}

	// Compute time spent on misses feeds the efficiency statistic even
	// when the response is not admitted.
	if md.ResponseTimeMs > 0 {
		m.stats.simMu.Lock()
		m.stats.missComputeMs += md.ResponseTimeMs
		m.stats.simMu.Unlock()
	}

	if md.Quality > 0 && md.Quality < cfg.MinResponseQuality {
		m.stats.admissionRejections.Add(1)
		metrics.RecordAdmissionRejection()
		logging.LogEvent("cache_admission_rejected", map[string]interface{}{
			"quality": md.Quality,
			"floor":   cfg.MinResponseQuality,
			"model":   md.Model,
		})
		return nil
	}

	// The entry records its context partition so the semantic read path
	// can filter on it.
	if len(md.Context) == 0 {
		md.Context = req.Context
	}

	if err := m.engine.EnsureCapacity(ctx, int64(len(response))); err != nil {
		logging.Warnf("Manager: capacity pass failed, admitting anyway: %v", err)
	}

	if err := m.store.Set(ctx, key, response, md); err != nil {
		return err
	}

	// The pre-write pass sized the payload, not the persisted entry; a
	// second check covers the entry overhead (embedding, metadata).
	if err := m.engine.EnsureCapacity(ctx, 0); err != nil {
		logging.Warnf("Manager: post-write capacity pass failed: %v", err)
	}
	return nil
}

// Invalidate removes entries whose query contains pattern, optionally
// scoped to a model. An empty pattern with an empty model clears the
// cache.
func (m *Manager) Invalidate(ctx context.Context, pattern, model string) (int, error) {
	return m.store.Invalidate(ctx, pattern, model)
}

// Stats returns a point-in-time aggregate snapshot.
func (m *Manager) Stats() CacheStats {
	hits := m.stats.hits.Load()
	misses := m.stats.misses.Load()
	lookups := hits + misses

	m.stats.simMu.Lock()
	simSum := m.stats.similaritySum
	timeSaved := m.stats.totalTimeSavedMs
	costSaved := m.stats.totalCostSaved
	missCompute := m.stats.missComputeMs
	m.stats.simMu.Unlock()

	stats := CacheStats{
		TotalEntries:        int(m.store.EntryCount()),
		StorageUsed:         m.store.StorageUsed(),
		EvictionCount:       m.store.EvictionCount(),
		TotalTimeSavedMs:    timeSaved,
		TotalCostSaved:      costSaved,
		AdmissionRejections: m.stats.admissionRejections.Load(),
		TopQueries:          m.topQueries(),
	}
	if lookups > 0 {
		stats.HitRate = float64(hits) / float64(lookups)
		stats.MissRate = float64(misses) / float64(lookups)
	}
	if hits > 0 {
		stats.AverageSimilarity = simSum / float64(hits)
	}
	if total := timeSaved + missCompute; total > 0 {
		stats.CacheEfficiency = float64(timeSaved) / float64(total)
	}
	return stats
}

// Optimize runs a maintenance pass: expiry sweep plus compression. At
// most one pass per configured interval; a run inside the window
// returns immediately with Throttled set.
func (m *Manager) Optimize(ctx context.Context) (OptimizeResult, error) {
	cfg, _ := m.snapshot()
	interval := time.Duration(cfg.OptimizeIntervalSeconds) * time.Second

	now := time.Now()
	last := m.lastOptimize.Load()
	if interval > 0 && last > 0 && now.Sub(time.Unix(0, last)) < interval {
		return OptimizeResult{Throttled: true}, nil
	}
	if !m.lastOptimize.CompareAndSwap(last, now.UnixNano()) {
		return OptimizeResult{Throttled: true}, nil
	}

	return m.store.Optimize(ctx)
}

// UpdateConfig merges a partial update into the live configuration. The
// normalizer is rebuilt when the update touches key derivation, so new
// requests hash under the new rules while existing entries stay
// reachable under theirs.
func (m *Manager) UpdateConfig(update ConfigUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := update.apply(m.cfg)
	if err := next.Validate(); err != nil {
		return err
	}
	m.cfg = next
	m.normalizer = NewNormalizer(next)
	m.store.ApplyConfig(next)

	logging.LogEvent("cache_config_updated", map[string]interface{}{
		"similarity_threshold": next.SimilarityThreshold,
		"eviction_policy":      string(next.EvictionPolicy),
		"default_ttl":          next.DefaultTTLSeconds,
	})
	return nil
}

// ReplaceConfig swaps in a whole new configuration, validated first.
// Used by the file watcher on hot reload; UpdateConfig covers partial
// programmatic changes.
func (m *Manager) ReplaceConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.normalizer = NewNormalizer(cfg)
	m.mu.Unlock()
	m.store.ApplyConfig(cfg)

	logging.LogEvent("cache_config_replaced", map[string]interface{}{
		"similarity_threshold": cfg.SimilarityThreshold,
		"eviction_policy":      string(cfg.EvictionPolicy),
	})
	return nil
}

// Config returns a copy of the live configuration.
func (m *Manager) Config() Config {
	cfg, _ := m.snapshot()
	return cfg
}

// Close stops the eviction engine and releases the store's backends.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.engine.Stop()
		err = m.store.Close()
	})
	return err
}

func (m *Manager) snapshot() (Config, *Normalizer) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg, m.normalizer
}

func (m *Manager) recordHit(hit *CacheHit) {
	m.stats.hits.Add(1)

	m.stats.simMu.Lock()
	m.stats.similaritySum += float64(hit.Similarity)
	m.stats.totalTimeSavedMs += hit.TimeSavedMs
	m.stats.totalCostSaved += hit.CostSaved
	m.stats.simMu.Unlock()

	m.stats.topMu.Lock()
	m.stats.topQueries[hit.Entry.Query]++
	m.stats.topMu.Unlock()

	source := "semantic"
	if hit.IsExact {
		source = "exact"
	}
	metrics.RecordCacheHit(source)
	metrics.RecordHitSimilarity(float64(hit.Similarity))
}

func (m *Manager) recordMiss() {
	m.stats.misses.Add(1)
	metrics.RecordCacheMiss()
}

// topQueries returns the most frequently hit queries, hottest first,
// ties broken alphabetically.
func (m *Manager) topQueries() []QueryCount {
	m.stats.topMu.Lock()
	counts := make([]QueryCount, 0, len(m.stats.topQueries))
	for q, n := range m.stats.topQueries {
		counts = append(counts, QueryCount{Query: q, Hits: n})
	}
	m.stats.topMu.Unlock()

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Hits != counts[j].Hits {
			return counts[i].Hits > counts[j].Hits
		}
		return counts[i].Query < counts[j].Query
	})
	if len(counts) > topQueriesLimit {
		counts = counts[:topQueriesLimit]
	}
	return counts
}
