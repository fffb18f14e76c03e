package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process index that scans every stored vector with an
// exact cosine computation. It trades O(n) lookup for zero infrastructure,
// which is the right fit for tests and modest single-node caches.
type Memory struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{vectors: make(map[string][]float32)}
}

func (m *Memory) Upsert(_ context.Context, id string, vector []float32) error {
	stored := make([]float32, len(vector))
	copy(stored, vector)

	m.mu.Lock()
	m.vectors[id] = stored
	m.mu.Unlock()
	return nil
}

func (m *Memory) Query(_ context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 1
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.vectors))
	for id, stored := range m.vectors {
		matches = append(matches, Match{
			ID:         id,
			Similarity: clampSimilarity(cosine(vector, stored)),
		})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) Remove(_ context.Context, ids ...string) error {
	m.mu.Lock()
	for _, id := range ids {
		delete(m.vectors, id)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.vectors = make(map[string][]float32)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored vectors.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// cosine computes cosine similarity over unnormalized vectors: dot product
// divided by the product of magnitudes, clamped to [-1, 1].
func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return float32(sim)
}
