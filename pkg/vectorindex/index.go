// Package vectorindex defines the nearest-neighbor index the cache queries
// for semantic lookup, plus adapters for in-memory, Redis, and Milvus
// backends.
//
// Similarity convention: every adapter returns cosine similarity clamped to
// [0, 1], higher meaning more similar. Adapters convert their backend's
// native metric (Redis reports cosine distance, Milvus cosine scores) into this
// space so threshold comparisons behave identically across backends.
package vectorindex

import "context"

// Match is one nearest-neighbor result.
type Match struct {
	ID         string
	Similarity float32
}

// Index is the vector similarity index consumed by the cache core. The
// internal search algorithm is the backend's concern, not the cache's.
type Index interface {
	// Upsert inserts or replaces the vector stored under id.
	Upsert(ctx context.Context, id string, vector []float32) error

	// Query returns up to topK nearest neighbors in descending similarity order.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)

	// Remove deletes the given ids. Missing ids are not an error.
	Remove(ctx context.Context, ids ...string) error

	// Close releases resources held by the index.
	Close() error
}

// clampSimilarity forces a raw cosine value into the documented [0, 1]
// range. Negative cosine means dissimilar, which the cache treats as zero.
func clampSimilarity(sim float32) float32 {
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
