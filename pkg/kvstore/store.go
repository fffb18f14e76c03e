// Package kvstore defines the durable key/value and sorted-set store the
// cache persists entries and usage bookkeeping into. Single-key writes are
// atomic; cross-process coherence is delegated to the backing store.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// ScoredMember is a sorted-set member together with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the durable store consumed by the cache core.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. ttlSeconds > 0 sets a native expiry as a
	// backstop for the cache's own TTL handling; 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error

	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)

	// Keys lists all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// ZAdd inserts or updates a sorted-set member with an absolute score.
	ZAdd(ctx context.Context, set, member string, score float64) error

	// ZRem removes members from a sorted set.
	ZRem(ctx context.Context, set string, members ...string) error

	// ZRangeByScore returns members with min <= score <= max in ascending
	// score order, at most limit members (limit <= 0 means unbounded).
	ZRangeByScore(ctx context.Context, set string, min, max float64, limit int) ([]string, error)

	// ZRangeWithScores returns the whole sorted set in ascending score order.
	ZRangeWithScores(ctx context.Context, set string) ([]ScoredMember, error)

	// ZScore returns a member's score, or false when the member is absent.
	ZScore(ctx context.Context, set, member string) (float64, bool, error)

	// Close releases resources held by the store.
	Close() error
}
