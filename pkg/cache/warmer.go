package cache

import (
	"context"
	"sort"

	"github.com/neuralcache/semcache/pkg/observability/logging"
)

// WarmupQuery is one candidate for proactive cache population. Entries
// with an ExpectedResponse are written directly; the rest are returned
// as pending because the warmer never invokes generation itself.
type WarmupQuery struct {
	Query            string   `json:"query" yaml:"query"`
	Type             string   `json:"type,omitempty" yaml:"type,omitempty"`
	Priority         int      `json:"priority,omitempty" yaml:"priority,omitempty"`
	Model            string   `json:"model,omitempty" yaml:"model,omitempty"`
	Context          []string `json:"context,omitempty" yaml:"context,omitempty"`
	ExpectedResponse string   `json:"expected_response,omitempty" yaml:"expected_response,omitempty"`
}

// WarmupResult summarizes a warmup run.
type WarmupResult struct {
	Warmed  int           `json:"warmed"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`
	Pending []WarmupQuery `json:"pending,omitempty"`
}

// Warmer populates the cache ahead of traffic from a curated query list.
type Warmer struct {
	manager *Manager
}

// NewWarmer builds a warmer over the manager's admission path, so warmed
// entries go through the same normalization and capacity handling as
// organic writes.
func NewWarmer(manager *Manager) *Warmer {
	return &Warmer{manager: manager}
}

// Warmup processes queries highest priority first, in batches, stopping
// at the configured query cap. Abortable between entries; a re-run only
// rewrites entries, so aborting mid-way loses nothing. Returns counts
// and the queries that still need a generated response.
func (w *Warmer) Warmup(ctx context.Context, queries []WarmupQuery) (WarmupResult, error) {
	var result WarmupResult
	cfg := w.manager.Config()
	if !cfg.WarmupEnabled {
		result.Skipped = len(queries)
		return result, nil
	}

	ordered := make([]WarmupQuery, len(queries))
	copy(ordered, queries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	if cfg.MaxWarmingQueries > 0 && len(ordered) > cfg.MaxWarmingQueries {
		result.Skipped = len(ordered) - cfg.MaxWarmingQueries
		ordered = ordered[:cfg.MaxWarmingQueries]
	}

	batchSize := cfg.WarmingBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	for i, q := range ordered {
		if err := ctx.Err(); err != nil {
			result.Pending = append(result.Pending, ordered[i:]...)
			return result, err
		}
		if i > 0 && i%batchSize == 0 {
			logging.Debugf("Warmer: %d/%d queries processed", i, len(ordered))
		}
		if q.Query == "" {
			result.Skipped++
			continue
		}
		if q.ExpectedResponse == "" {
			result.Pending = append(result.Pending, q)
			continue
		}

		req := CacheRequest{
			Query:       q.Query,
			Model:       q.Model,
			Context:     q.Context,
			RequestType: q.Type,
		}
		// Curated responses are trusted, so they carry full quality and
		// always clear the admission floor.
		md := EntryMetadata{
			Model:   q.Model,
			Quality: 1.0,
			Tags:    []string{"warmup"},
			Context: q.Context,
		}
		if err := w.manager.Set(ctx, req, []byte(q.ExpectedResponse), md); err != nil {
			logging.Warnf("Warmer: failed to warm %q: %v", q.Query, err)
			result.Failed++
			continue
		}
		result.Warmed++
	}

	logging.LogEvent("cache_warmup_completed", map[string]interface{}{
		"warmed":  result.Warmed,
		"failed":  result.Failed,
		"skipped": result.Skipped,
		"pending": len(result.Pending),
	})
	return result, nil
}
