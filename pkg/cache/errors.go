package cache

import (
	"errors"
	"fmt"
)

// ErrEmptyQuery rejects requests with no query text before they reach the
// store.
var ErrEmptyQuery = errors.New("cache: query must not be empty")

// ErrCachingDisabled is returned by write operations when response caching
// is switched off. Reads simply miss.
var ErrCachingDisabled = errors.New("cache: response caching is disabled")

// CollaboratorError wraps an embedding provider, vector index, or durable
// store outage. Read paths degrade to a miss on it; write paths surface it,
// since a lost cache write costs only a missed optimization.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("cache: %s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
