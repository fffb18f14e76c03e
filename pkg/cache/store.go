package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neuralcache/semcache/pkg/embedding"
	"github.com/neuralcache/semcache/pkg/kvstore"
	"github.com/neuralcache/semcache/pkg/observability/logging"
	"github.com/neuralcache/semcache/pkg/observability/metrics"
	"github.com/neuralcache/semcache/pkg/vectorindex"
)

const (
	entryKeyPrefix = "semcache:entry:"
	recencySet     = "semcache:recency"
	frequencySet   = "semcache:frequency"
	relevanceSet   = "semcache:relevance"
	sizeSet        = "semcache:size"
	expirySet      = "semcache:expiry"

	lockStripes = 64
)

// Store owns cache entry persistence: exact lookup by query hash in the
// durable store, semantic lookup through the vector index, replacement,
// invalidation, expiry sweeps, and compression.
//
// The durable store and vector index are the sole source of truth; the
// Store keeps no entry mirror beyond a single operation, so instances
// sharing the same backends need no extra coherency protocol.
type Store struct {
	kv       kvstore.Store
	index    vectorindex.Index
	provider embedding.Provider

	cfg atomic.Pointer[Config]

	// Lock striped by query hash: operations on the same key serialize,
	// different keys proceed concurrently.
	locks [lockStripes]sync.Mutex

	storageUsed atomic.Int64
	entryCount  atomic.Int64
	evictions   atomic.Int64
}

// EntryInfo is the per-entry summary handed to the eviction engine. The
// engine only ever deletes entries through the Store; it never mutates
// entry content.
type EntryInfo struct {
	Hash         string
	ID           string
	Size         int64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	Relevance    float64
	Expired      bool
}

// NewStore wires the store to its collaborators and rebuilds the size
// accounting from the durable bookkeeping set.
func NewStore(kv kvstore.Store, index vectorindex.Index, provider embedding.Provider, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	s := &Store{
		kv:       kv,
		index:    index,
		provider: provider,
	}
	s.cfg.Store(&cfg)

	sizes, err := kv.ZRangeWithScores(context.Background(), sizeSet)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild size accounting: %w", err)
	}
	var total int64
	for _, sm := range sizes {
		total += int64(sm.Score)
	}
	s.storageUsed.Store(total)
	s.entryCount.Store(int64(len(sizes)))
	metrics.UpdateCacheStorage(total)
	metrics.UpdateCacheEntries(len(sizes))

	logging.Debugf("Store: initialized with %d entries, %d bytes", len(sizes), total)
	return s, nil
}

// ApplyConfig swaps in a new configuration, effective on the next call.
func (s *Store) ApplyConfig(cfg Config) {
	s.cfg.Store(&cfg)
}

func (s *Store) config() Config {
	return *s.cfg.Load()
}

func (s *Store) lockFor(hash string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(hash))
	return &s.locks[h.Sum32()%lockStripes]
}

// Get looks up the key: exact hash match first, then the semantic path.
// Collaborator failures and lookup timeouts degrade to a miss, never an
// error, so the caller's critical path cannot stall on cache
// infrastructure. A nil hit with nil error is a miss.
func (s *Store) Get(ctx context.Context, key CacheKey) (*CacheHit, error) {
	start := time.Now()
	cfg := s.config()

	// A key with no normalized content misses by policy; hashing it
	// would collapse every blank query onto one slot.
	if key.Normalized == "" {
		metrics.RecordCacheOperation("store", "get", "miss", time.Since(start).Seconds())
		return nil, nil
	}

	entry, err := s.loadEntry(ctx, key.Hash())
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		logging.Warnf("Store.Get: exact lookup degraded to miss: %v", err)
		metrics.RecordCacheOperation("store", "get", "error", time.Since(start).Seconds())
		return nil, nil
	}
	if entry != nil {
		if entry.Expired(time.Now()) {
			s.scheduleRemoval(entry.QueryHash, "expired")
		} else {
			hit, err := s.buildHit(entry, 1.0, true)
			if err != nil {
				logging.Warnf("Store.Get: failed to decode exact hit: %v", err)
				metrics.RecordCacheOperation("store", "get", "error", time.Since(start).Seconds())
				return nil, nil
			}
			metrics.RecordCacheOperation("store", "get", "hit", time.Since(start).Seconds())
			return hit, nil
		}
	}

	if !cfg.EnableSemanticCaching {
		metrics.RecordCacheOperation("store", "get", "miss", time.Since(start).Seconds())
		return nil, nil
	}

	hit := s.semanticLookup(ctx, key, cfg)
	if hit == nil {
		metrics.RecordCacheOperation("store", "get", "miss", time.Since(start).Seconds())
		return nil, nil
	}
	metrics.RecordCacheOperation("store", "get", "hit", time.Since(start).Seconds())
	return hit, nil
}

// semanticLookup embeds the normalized query, asks the index for the top-K
// neighbors, and accepts the best candidate that clears the similarity and
// quality thresholds and is not expired. Every index match is re-validated
// against the durable store, so a stale index entry can never satisfy a
// lookup on its own.
func (s *Store) semanticLookup(ctx context.Context, key CacheKey, cfg Config) *CacheHit {
	if cfg.LookupTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.LookupTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	vector, err := s.provider.Embed(ctx, key.Normalized)
	if err != nil {
		logging.Warnf("Store: embedding failed, degrading to exact-only: %v", err)
		return nil
	}

	matches, err := s.index.Query(ctx, vector, cfg.TopK)
	if err != nil {
		logging.Warnf("Store: vector search failed, degrading to miss: %v", err)
		return nil
	}

	now := time.Now()
	var (
		best    *CacheEntry
		bestSim float32
	)
	for _, match := range matches {
		if match.Similarity < cfg.SimilarityThreshold {
			continue
		}
		candidate, err := s.loadEntry(ctx, match.ID)
		if err != nil {
			if errors.Is(err, kvstore.ErrNotFound) {
				// Index outlived the entry; drop the orphan vector
				s.scheduleIndexRemoval(match.ID)
			}
			continue
		}
		if candidate.Expired(now) {
			s.scheduleRemoval(candidate.QueryHash, "expired")
			continue
		}
		// A zero quality means the response was never scored; only scored
		// candidates are gated.
		if candidate.Metadata.Quality > 0 && candidate.Metadata.Quality < cfg.QualityThreshold {
			continue
		}
		if cfg.CacheByModel && key.Model != "" && candidate.Metadata.Model != key.Model {
			continue
		}
		if cfg.CacheByContext && !sameContext(key.Context, candidate.Metadata.Context) {
			continue
		}
		if best == nil || betterCandidate(match.Similarity, candidate, bestSim, best) {
			best = candidate
			bestSim = match.Similarity
		}
	}
	if best == nil {
		return nil
	}

	hit, err := s.buildHit(best, bestSim, false)
	if err != nil {
		logging.Warnf("Store: failed to decode semantic hit: %v", err)
		return nil
	}
	logging.LogEvent("cache_hit", map[string]interface{}{
		"source":     "semantic",
		"similarity": bestSim,
		"threshold":  cfg.SimilarityThreshold,
		"model":      best.Metadata.Model,
	})
	return hit
}

// sameContext reports whether two context sets name the same partition.
// Comparison follows the fingerprint's canonical form: order-insensitive
// with case and surrounding whitespace folded.
func sameContext(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	ca, cb := canonicalContext(a), canonicalContext(b)
	for i := range ca {
		if ca[i] != cb[i] {
			return false
		}
	}
	return true
}

func canonicalContext(ctx []string) []string {
	out := make([]string, len(ctx))
	for i, c := range ctx {
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}
	sort.Strings(out)
	return out
}

// betterCandidate ranks semantic candidates: higher similarity first, then
// the most recently accessed entry, then the higher access count.
func betterCandidate(sim float32, candidate *CacheEntry, bestSim float32, best *CacheEntry) bool {
	if sim != bestSim {
		return sim > bestSim
	}
	if !candidate.LastAccessed.Equal(best.LastAccessed) {
		return candidate.LastAccessed.After(best.LastAccessed)
	}
	return candidate.AccessCount > best.AccessCount
}

// Set stores a new entry under the key's hash, replacing any existing entry
// (last-writer-wins; the access counter resets because the query contract
// has changed). The embedding is computed exactly once per entry.
func (s *Store) Set(ctx context.Context, key CacheKey, response []byte, md EntryMetadata) error {
	start := time.Now()
	cfg := s.config()

	vector, err := s.provider.Embed(ctx, key.Normalized)
	if err != nil {
		metrics.RecordCacheOperation("store", "set", "error", time.Since(start).Seconds())
		return &CollaboratorError{Collaborator: "embedding provider", Err: err}
	}

	ttl := cfg.DefaultTTLSeconds
	if cfg.MaxCacheAgeSeconds > 0 && (ttl == 0 || ttl > cfg.MaxCacheAgeSeconds) {
		ttl = cfg.MaxCacheAgeSeconds
	}

	now := time.Now()
	entry := &CacheEntry{
		ID:             uuid.NewString(),
		QueryHash:      key.Hash(),
		Query:          key.Query,
		QueryEmbedding: vector,
		Response:       response,
		Metadata:       md,
		CreatedAt:      now,
		LastAccessed:   now,
		TTLSeconds:     ttl,
	}

	if cfg.CompressionEnabled && len(response) > cfg.CompressionThresholdBytes {
		compressed, err := compressResponse(response)
		if err != nil {
			return err
		}
		entry.Response = compressed
		entry.Compressed = true
	}

	lock := s.lockFor(entry.QueryHash)
	lock.Lock()
	defer lock.Unlock()

	if err := s.persistEntry(ctx, entry); err != nil {
		metrics.RecordCacheOperation("store", "set", "error", time.Since(start).Seconds())
		return err
	}
	if err := s.index.Upsert(ctx, entry.QueryHash, vector); err != nil {
		metrics.RecordCacheOperation("store", "set", "error", time.Since(start).Seconds())
		return &CollaboratorError{Collaborator: "vector index", Err: err}
	}

	logging.LogEvent("cache_entry_added", map[string]interface{}{
		"query_hash": entry.QueryHash,
		"model":      md.Model,
		"compressed": entry.Compressed,
		"ttl":        ttl,
	})
	metrics.RecordCacheOperation("store", "set", "success", time.Since(start).Seconds())
	return nil
}

// Touch records a hit on the entry: bumps the access counter, refreshes the
// access time, and rolls the hit similarity into the relevance statistic.
// Serialized with Set on the same key through the stripe lock.
func (s *Store) Touch(ctx context.Context, hash string, similarity float32) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.loadEntry(ctx, hash)
	if err != nil {
		return err
	}

	entry.AccessCount++
	entry.LastAccessed = time.Now()
	entry.RelevanceSum += float64(similarity)
	entry.RelevanceCount++

	return s.persistEntry(ctx, entry)
}

// Invalidate removes entries whose original query contains pattern
// (case-insensitive; empty pattern removes all), optionally scoped to one
// model partition. Returns the number of entries removed.
func (s *Store) Invalidate(ctx context.Context, pattern, model string) (int, error) {
	keys, err := s.kv.Keys(ctx, entryKeyPrefix)
	if err != nil {
		return 0, &CollaboratorError{Collaborator: "durable store", Err: err}
	}

	needle := strings.ToLower(pattern)
	var victims []string
	for _, key := range keys {
		entry, err := s.loadEntry(ctx, strings.TrimPrefix(key, entryKeyPrefix))
		if err != nil {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(entry.Query), needle) {
			continue
		}
		if model != "" && entry.Metadata.Model != model {
			continue
		}
		victims = append(victims, entry.QueryHash)
	}

	removed, _, err := s.Remove(ctx, victims, "invalidate")
	return removed, err
}

// Remove deletes entries from the durable store, the vector index, and all
// bookkeeping sets, and returns the count and bytes reclaimed. The order —
// store first, index second — combined with read-time re-validation keeps a
// crash between the two from ever serving a phantom entry.
func (s *Store) Remove(ctx context.Context, hashes []string, reason string) (int, int64, error) {
	if len(hashes) == 0 {
		return 0, 0, nil
	}

	// Membership in the size set marks an entry as live; the raw delete
	// count is unreliable when a native TTL already reaped the key.
	sizeByHash := make(map[string]int64, len(hashes))
	keys := make([]string, len(hashes))
	removed := 0
	for i, h := range hashes {
		keys[i] = entryKeyPrefix + h
		if size, ok := s.recordedSize(h); ok {
			sizeByHash[h] = size
			removed++
		}
	}

	if _, err := s.kv.Delete(ctx, keys...); err != nil {
		return 0, 0, &CollaboratorError{Collaborator: "durable store", Err: err}
	}
	if err := s.index.Remove(ctx, hashes...); err != nil {
		// Store deletion already happened; semantic hits re-validate against
		// the store, so the stale vectors cannot be served. Log and retry on
		// the next sweep.
		logging.Warnf("Store.Remove: index removal incomplete: %v", err)
	}

	for _, set := range []string{recencySet, frequencySet, relevanceSet, sizeSet, expirySet} {
		if err := s.kv.ZRem(ctx, set, hashes...); err != nil {
			logging.Warnf("Store.Remove: bookkeeping cleanup failed for %s: %v", set, err)
		}
	}

	var reclaimed int64
	for _, h := range hashes {
		reclaimed += sizeByHash[h]
	}
	s.storageUsed.Add(-reclaimed)
	s.entryCount.Add(int64(-removed))
	if reason != "invalidate" {
		s.evictions.Add(int64(removed))
	}
	metrics.UpdateCacheStorage(s.storageUsed.Load())
	metrics.UpdateCacheEntries(int(s.entryCount.Load()))
	metrics.RecordEviction(reason, removed)

	logging.LogEvent("cache_entries_removed", map[string]interface{}{
		"count":  removed,
		"bytes":  reclaimed,
		"reason": reason,
	})
	return removed, reclaimed, nil
}

// Snapshot lists summaries of all persisted entries for eviction scoring.
func (s *Store) Snapshot(ctx context.Context) ([]EntryInfo, error) {
	keys, err := s.kv.Keys(ctx, entryKeyPrefix)
	if err != nil {
		return nil, &CollaboratorError{Collaborator: "durable store", Err: err}
	}

	now := time.Now()
	infos := make([]EntryInfo, 0, len(keys))
	for _, key := range keys {
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var entry CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		infos = append(infos, EntryInfo{
			Hash:         entry.QueryHash,
			ID:           entry.ID,
			Size:         int64(len(raw)),
			CreatedAt:    entry.CreatedAt,
			LastAccessed: entry.LastAccessed,
			AccessCount:  entry.AccessCount,
			Relevance:    entry.Relevance(),
			Expired:      entry.Expired(now),
		})
	}
	return infos, nil
}

// Optimize runs an expiry sweep followed by a compression pass over entries
// that grew past the threshold uncompressed. Abortable between batches; an
// aborted run leaves no partial entry and re-running is safe.
func (s *Store) Optimize(ctx context.Context) (OptimizeResult, error) {
	start := time.Now()
	cfg := s.config()
	var result OptimizeResult

	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	for {
		if ctx.Err() != nil {
			result.OptimizationTime = time.Since(start)
			return result, ctx.Err()
		}
		expired, err := s.ExpiredEntries(ctx, batchSize)
		if err != nil {
			logging.Warnf("Store.Optimize: expiry scan failed: %v", err)
			break
		}
		if len(expired) == 0 {
			break
		}
		removed, reclaimed, err := s.Remove(ctx, expired, "expired")
		if err != nil {
			logging.Warnf("Store.Optimize: sweep batch failed, continuing: %v", err)
			break
		}
		result.EntriesEvicted += removed
		result.StorageReclaimed += reclaimed
	}

	if cfg.CompressionEnabled {
		compressed, saved := s.compressionPass(ctx, cfg)
		result.EntriesCompressed = compressed
		result.StorageReclaimed += saved
	}

	result.OptimizationTime = time.Since(start)
	logging.LogEvent("cache_optimized", map[string]interface{}{
		"evicted":    result.EntriesEvicted,
		"reclaimed":  result.StorageReclaimed,
		"compressed": result.EntriesCompressed,
		"duration":   result.OptimizationTime.String(),
	})
	return result, nil
}

// compressionPass rewrites uncompressed entries whose payload exceeds the
// threshold. Returns entries rewritten and bytes saved.
func (s *Store) compressionPass(ctx context.Context, cfg Config) (int, int64) {
	keys, err := s.kv.Keys(ctx, entryKeyPrefix)
	if err != nil {
		logging.Warnf("Store: compression pass skipped: %v", err)
		return 0, 0
	}

	count := 0
	var saved int64
	for _, key := range keys {
		if ctx.Err() != nil {
			return count, saved
		}
		hash := strings.TrimPrefix(key, entryKeyPrefix)

		lock := s.lockFor(hash)
		lock.Lock()
		entry, err := s.loadEntry(ctx, hash)
		if err != nil || entry.Compressed || len(entry.Response) <= cfg.CompressionThresholdBytes {
			lock.Unlock()
			continue
		}
		before := s.entrySize(hash)
		compressed, err := compressResponse(entry.Response)
		if err != nil {
			lock.Unlock()
			continue
		}
		entry.Response = compressed
		entry.Compressed = true
		if err := s.persistEntry(ctx, entry); err != nil {
			lock.Unlock()
			logging.Warnf("Store: failed to rewrite compressed entry: %v", err)
			continue
		}
		lock.Unlock()

		count++
		saved += before - s.entrySize(hash)
	}
	return count, saved
}

// StorageUsed returns the occupied size in bytes.
func (s *Store) StorageUsed() int64 {
	return s.storageUsed.Load()
}

// EntryCount returns the number of live entries.
func (s *Store) EntryCount() int64 {
	return s.entryCount.Load()
}

// EvictionCount returns the number of entries evicted since the store
// was created. Invalidations are not counted.
func (s *Store) EvictionCount() int64 {
	return s.evictions.Load()
}

// ExpiredEntries returns up to limit query hashes whose TTL has elapsed,
// oldest expiry first. Entries stored without a TTL never appear here.
func (s *Store) ExpiredEntries(ctx context.Context, limit int) ([]string, error) {
	return s.kv.ZRangeByScore(ctx, expirySet, 1, float64(time.Now().Unix()), limit)
}

// Close releases the store's collaborators.
func (s *Store) Close() error {
	idxErr := s.index.Close()
	kvErr := s.kv.Close()
	if idxErr != nil {
		return idxErr
	}
	return kvErr
}

func (s *Store) loadEntry(ctx context.Context, hash string) (*CacheEntry, error) {
	raw, err := s.kv.Get(ctx, entryKeyPrefix+hash)
	if err != nil {
		return nil, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &entry, nil
}

// persistEntry writes the entry and refreshes its bookkeeping. Caller holds
// the stripe lock for the entry's hash.
func (s *Store) persistEntry(ctx context.Context, entry *CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	// Native-store TTL backstops the read-time expiry check
	remaining := 0
	if entry.TTLSeconds > 0 {
		left := time.Until(entry.CreatedAt.Add(time.Duration(entry.TTLSeconds) * time.Second))
		if left <= 0 {
			return nil
		}
		remaining = int(left/time.Second) + 1
	}

	previous := s.entrySize(entry.QueryHash)
	if err := s.kv.Set(ctx, entryKeyPrefix+entry.QueryHash, raw, remaining); err != nil {
		return &CollaboratorError{Collaborator: "durable store", Err: err}
	}

	size := int64(len(raw))
	_ = s.kv.ZAdd(ctx, recencySet, entry.QueryHash, float64(entry.LastAccessed.Unix()))
	_ = s.kv.ZAdd(ctx, frequencySet, entry.QueryHash, float64(entry.AccessCount))
	_ = s.kv.ZAdd(ctx, relevanceSet, entry.QueryHash, entry.Relevance())
	_ = s.kv.ZAdd(ctx, sizeSet, entry.QueryHash, float64(size))
	if entry.TTLSeconds > 0 {
		expiresAt := entry.CreatedAt.Add(time.Duration(entry.TTLSeconds) * time.Second)
		_ = s.kv.ZAdd(ctx, expirySet, entry.QueryHash, float64(expiresAt.Unix()))
	}

	s.storageUsed.Add(size - previous)
	if previous == 0 {
		s.entryCount.Add(1)
	}
	metrics.UpdateCacheStorage(s.storageUsed.Load())
	metrics.UpdateCacheEntries(int(s.entryCount.Load()))
	return nil
}

// recordedSize reads the recorded size of an entry and whether the
// entry is live in the bookkeeping.
func (s *Store) recordedSize(hash string) (int64, bool) {
	score, ok, err := s.kv.ZScore(context.Background(), sizeSet, hash)
	if err != nil || !ok {
		return 0, false
	}
	return int64(score), true
}

// entrySize reads the recorded size of an entry, 0 when absent.
func (s *Store) entrySize(hash string) int64 {
	size, _ := s.recordedSize(hash)
	return size
}

// scheduleRemoval queues a lazy deletion of an expired entry discovered on
// the read path. Best effort; the sweeper catches anything it misses.
func (s *Store) scheduleRemoval(hash, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, _, err := s.Remove(ctx, []string{hash}, reason); err != nil {
			logging.Debugf("Store: deferred removal of %s failed: %v", hash, err)
		}
	}()
}

func (s *Store) scheduleIndexRemoval(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.index.Remove(ctx, id); err != nil {
			logging.Debugf("Store: orphan vector cleanup failed for %s: %v", id, err)
		}
	}()
}

func (s *Store) buildHit(entry *CacheEntry, similarity float32, exact bool) (*CacheHit, error) {
	response := entry.Response
	if entry.Compressed {
		decompressed, err := decompressResponse(entry.Response)
		if err != nil {
			return nil, err
		}
		response = decompressed
	}

	// Hand out a copy so callers never observe the stored (possibly
	// compressed) payload
	out := *entry
	out.Response = response
	out.Compressed = false

	return &CacheHit{
		Entry:       &out,
		Similarity:  similarity,
		IsExact:     exact,
		TimeSavedMs: entry.Metadata.ResponseTimeMs,
		CostSaved:   entry.Metadata.Cost,
	}, nil
}
