// Package embedding defines the provider interface the cache uses to turn
// query text into fixed-length vectors. The cache never computes embeddings
// itself; it only calls a provider.
package embedding

import (
	"context"
	"fmt"
)

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed dimensionality of produced vectors.
	Dimension() int
}

// Error wraps a provider outage so callers can distinguish embedding
// failures from other cache errors and degrade to exact-only lookup.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
