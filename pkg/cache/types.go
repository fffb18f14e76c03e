// Package cache implements a semantic response cache: exact-match lookup by
// normalized query hash plus similarity lookup through a vector index, with
// quality-gated admission, TTL expiry, policy-driven eviction, transparent
// compression, and proactive warmup.
package cache

import (
	"time"
)

// TokenUsage records token counts attributed to a cached response.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// EntryMetadata describes the generation call a cached response came from.
type EntryMetadata struct {
	Model          string     `json:"model,omitempty"`
	ResponseTimeMs int64      `json:"response_time_ms,omitempty"`
	TokenUsage     TokenUsage `json:"token_usage,omitempty"`
	Cost           float64    `json:"cost,omitempty"`
	// Quality is the caller-supplied response quality in (0, 1]. The
	// zero value means the response was never scored; quality gates only
	// apply to scored responses.
	Quality float64  `json:"quality,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Context []string `json:"context,omitempty"`
}

// CacheEntry is one cached query/response pair. Entries are persisted as a
// whole in the durable store and referenced from the vector index by
// QueryHash.
type CacheEntry struct {
	ID             string        `json:"id"`
	QueryHash      string        `json:"query_hash"`
	Query          string        `json:"query"`
	QueryEmbedding []float32     `json:"query_embedding,omitempty"`
	Response       []byte        `json:"response"`
	Compressed     bool          `json:"compressed,omitempty"`
	Metadata       EntryMetadata `json:"metadata"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessed   time.Time     `json:"last_accessed"`
	AccessCount    int64         `json:"access_count"`
	TTLSeconds     int           `json:"ttl_seconds"`

	// Rolling statistic over the similarity of hits this entry satisfied,
	// used by the semantic-relevance eviction policy
	RelevanceSum   float64 `json:"relevance_sum,omitempty"`
	RelevanceCount int64   `json:"relevance_count,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// Relevance returns the rolling mean hit similarity. Entries never hit
// since creation score zero so capacity pressure removes them first.
func (e *CacheEntry) Relevance() float64 {
	if e.RelevanceCount == 0 {
		return 0
	}
	return e.RelevanceSum / float64(e.RelevanceCount)
}

// CacheRequest is a lookup or admission request from the orchestration layer.
type CacheRequest struct {
	Query       string
	Model       string
	Context     []string
	RequestType string
}

// CacheKey is the derived, non-persisted lookup view of a request. The
// Normalized string is produced once per request and feeds both hashing and
// embedding.
type CacheKey struct {
	Query       string
	Model       string
	Context     []string
	RequestType string
	Normalized  string
	hash        string
}

// Hash returns the fingerprint of the normalized key, unique per
// (model, context) partition.
func (k CacheKey) Hash() string {
	return k.hash
}

// CacheHit is a transient lookup result. IsExact implies Similarity == 1.
type CacheHit struct {
	Entry       *CacheEntry
	Similarity  float32
	IsExact     bool
	TimeSavedMs int64
	CostSaved   float64
}

// Source identifies how a lookup was satisfied.
type Source string

const (
	SourceExact    Source = "exact"
	SourceSemantic Source = "semantic"
	SourceNone     Source = "none"
)

// CacheResult is the caller-facing outcome of Manager.Get.
type CacheResult struct {
	Hit         bool    `json:"hit"`
	Response    []byte  `json:"response,omitempty"`
	Similarity  float32 `json:"similarity,omitempty"`
	TimeSavedMs int64   `json:"time_saved_ms,omitempty"`
	CostSaved   float64 `json:"cost_saved,omitempty"`
	Source      Source  `json:"source"`
}

// QueryCount is one entry of the top-queries leaderboard.
type QueryCount struct {
	Query string `json:"query"`
	Hits  int64  `json:"hits"`
}

// CacheStats is an aggregate snapshot. Counters only decrease on explicit
// invalidation.
type CacheStats struct {
	TotalEntries      int          `json:"total_entries"`
	HitRate           float64      `json:"hit_rate"`
	MissRate          float64      `json:"miss_rate"`
	AverageSimilarity float64      `json:"average_similarity"`
	TotalTimeSavedMs  int64        `json:"total_time_saved_ms"`
	TotalCostSaved    float64      `json:"total_cost_saved"`
	StorageUsed       int64        `json:"storage_used"`
	EvictionCount     int64        `json:"eviction_count"`
	TopQueries        []QueryCount `json:"top_queries"`
	// CacheEfficiency is the fraction of total latency avoided:
	// totalTimeSaved / (totalTimeSaved + compute time spent on misses)
	CacheEfficiency     float64 `json:"cache_efficiency"`
	AdmissionRejections int64   `json:"admission_rejections"`
}

// OptimizeResult reports the cumulative effect of an optimization pass.
type OptimizeResult struct {
	EntriesEvicted    int           `json:"entries_evicted"`
	StorageReclaimed  int64         `json:"storage_reclaimed"`
	EntriesCompressed int           `json:"entries_compressed"`
	OptimizationTime  time.Duration `json:"optimization_time"`
	Throttled         bool          `json:"throttled,omitempty"`
}
