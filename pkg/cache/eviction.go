package cache

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/neuralcache/semcache/pkg/observability/logging"
)

// Engine enforces the cache's retention policies: it sweeps expired
// entries on a timer and drains the store below its size bound when an
// insert would overflow it. All deletions go through Store.Remove, so
// the engine never touches entry content or bookkeeping directly.
type Engine struct {
	store *Store

	// Serializes capacity passes; concurrent Sets that each see an
	// overflow would otherwise evict the same victims twice.
	evictMu sync.Mutex

	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine wires the engine to its store. Start launches the
// background sweeper; EnsureCapacity works without it.
func NewEngine(store *Store) *Engine {
	return &Engine{
		store:  store,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the expiry sweeper. Safe to call once; later calls are
// no-ops.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.started = true
		go e.sweepLoop()
	})
}

// Stop halts the sweeper and waits for the in-flight sweep to finish.
// A no-op when the sweeper was never started.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		if e.started {
			<-e.doneCh
		}
	})
}

func (e *Engine) sweepLoop() {
	defer close(e.doneCh)

	for {
		interval := e.store.config().SweepIntervalSeconds
		if interval <= 0 {
			interval = 60
		}
		select {
		case <-e.stopCh:
			return
		case <-time.After(time.Duration(interval) * time.Second):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		removed, reclaimed, err := e.SweepExpired(ctx)
		cancel()
		if err != nil {
			logging.Warnf("Engine: expiry sweep failed: %v", err)
			continue
		}
		if removed > 0 {
			logging.LogEvent("expiry_sweep", map[string]interface{}{
				"removed": removed,
				"bytes":   reclaimed,
			})
		}
	}
}

// SweepExpired removes entries whose TTL has elapsed, in bounded batches
// so a large backlog cannot monopolize the durable store. The sweeper
// yields between batches, so foreground lookups sharing the backends
// keep making progress. Returns the count and bytes reclaimed.
func (e *Engine) SweepExpired(ctx context.Context) (int, int64, error) {
	cfg := e.store.config()
	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var removed int
	var reclaimed int64
	for {
		select {
		case <-ctx.Done():
			return removed, reclaimed, ctx.Err()
		default:
		}
		expired, err := e.store.ExpiredEntries(ctx, batchSize)
		if err != nil {
			return removed, reclaimed, err
		}
		if len(expired) == 0 {
			return removed, reclaimed, nil
		}
		n, bytes, err := e.store.Remove(ctx, expired, "expired")
		if err != nil {
			return removed, reclaimed, err
		}
		removed += n
		reclaimed += bytes
		runtime.Gosched()
	}
}

// EnsureCapacity makes room for an insert of the given size. When the
// insert would push the store past its size bound, expired entries go
// first and then the policy picks victims until occupancy drops to the
// eviction target. A zero size bound disables eviction entirely.
func (e *Engine) EnsureCapacity(ctx context.Context, incoming int64) error {
	cfg := e.store.config()
	if cfg.MaxCacheSizeBytes <= 0 {
		return nil
	}
	if e.store.StorageUsed()+incoming <= cfg.MaxCacheSizeBytes {
		return nil
	}

	e.evictMu.Lock()
	defer e.evictMu.Unlock()

	// Re-check under the lock; the overflow may have been drained by a
	// concurrent pass while this one waited.
	if e.store.StorageUsed()+incoming <= cfg.MaxCacheSizeBytes {
		return nil
	}

	if _, _, err := e.SweepExpired(ctx); err != nil {
		logging.Warnf("Engine: pre-eviction sweep failed: %v", err)
	}
	if e.store.StorageUsed()+incoming <= cfg.MaxCacheSizeBytes {
		return nil
	}

	target := int64(float64(cfg.MaxCacheSizeBytes) * cfg.EvictionTargetFraction)
	if target > cfg.MaxCacheSizeBytes-incoming {
		target = cfg.MaxCacheSizeBytes - incoming
	}
	if target < 0 {
		target = 0
	}

	infos, err := e.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	rankVictims(infos, cfg)

	var victims []string
	var pending int64
	used := e.store.StorageUsed()
	for _, info := range infos {
		if used-pending <= target {
			break
		}
		victims = append(victims, info.Hash)
		pending += info.Size
	}
	if len(victims) == 0 {
		return nil
	}

	removed, reclaimed, err := e.store.Remove(ctx, victims, "capacity")
	if err != nil {
		return err
	}
	logging.LogEvent("capacity_eviction", map[string]interface{}{
		"policy":  string(cfg.EvictionPolicy),
		"removed": removed,
		"bytes":   reclaimed,
	})
	return nil
}

// rankVictims orders entries by eviction priority: lowest retention
// score first, ties broken by entry ID so the ordering is stable across
// runs with identical state.
func rankVictims(infos []EntryInfo, cfg Config) {
	scores := make([]float64, len(infos))
	switch cfg.EvictionPolicy {
	case PolicyLFU:
		for i, info := range infos {
			scores[i] = float64(info.AccessCount)
		}
	case PolicySemanticRelevance:
		for i, info := range infos {
			scores[i] = info.Relevance
		}
	case PolicyHybrid:
		hybridScores(infos, cfg.HybridWeights, scores)
	default: // PolicyLRU
		for i, info := range infos {
			scores[i] = float64(info.LastAccessed.UnixNano())
		}
	}

	order := make(map[string]float64, len(infos))
	for i, info := range infos {
		order[info.ID] = scores[i]
	}
	sort.Slice(infos, func(i, j int) bool {
		si, sj := order[infos[i].ID], order[infos[j].ID]
		if si != sj {
			return si < sj
		}
		return infos[i].ID < infos[j].ID
	})
}

// hybridScores blends recency, frequency, and relevance into a single
// retention score. Each dimension is min-max normalized over the
// snapshot so the weights compare like with like.
func hybridScores(infos []EntryInfo, w HybridWeights, out []float64) {
	if len(infos) == 0 {
		return
	}

	recency := make([]float64, len(infos))
	frequency := make([]float64, len(infos))
	relevance := make([]float64, len(infos))
	for i, info := range infos {
		recency[i] = float64(info.LastAccessed.UnixNano())
		frequency[i] = float64(info.AccessCount)
		relevance[i] = info.Relevance
	}
	normalize(recency)
	normalize(frequency)
	normalize(relevance)

	total := w.Recency + w.Frequency + w.Relevance
	for i := range infos {
		out[i] = (w.Recency*recency[i] + w.Frequency*frequency[i] + w.Relevance*relevance[i]) / total
	}
}

// normalize rescales values to [0, 1] in place. A constant slice maps
// to all zeros, which keeps ties deterministic through the ID ordering.
func normalize(vals []float64) {
	min, max := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range vals {
			vals[i] = 0
		}
		return
	}
	for i := range vals {
		vals[i] = (vals[i] - min) / (max - min)
	}
}
