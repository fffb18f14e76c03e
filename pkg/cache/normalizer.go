package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Normalizer canonicalizes raw queries into stable cache keys. It never
// fails; an empty query normalizes to an empty string and misses by policy.
type Normalizer struct {
	enabled        bool
	cacheByModel   bool
	cacheByContext bool
	stopTokens     map[string]struct{}
}

// NewNormalizer builds a normalizer from the current cache configuration.
func NewNormalizer(cfg Config) *Normalizer {
	stopTokens := make(map[string]struct{}, len(cfg.StopTokens))
	for _, tok := range cfg.StopTokens {
		stopTokens[strings.ToLower(tok)] = struct{}{}
	}
	return &Normalizer{
		enabled:        cfg.EnableQueryNormalization,
		cacheByModel:   cfg.CacheByModel,
		cacheByContext: cfg.CacheByContext,
		stopTokens:     stopTokens,
	}
}

// Normalize derives the cache key for a request. Context order does not
// affect the key: semantically identical contexts in different input order
// normalize identically.
func (n *Normalizer) Normalize(req CacheRequest) CacheKey {
	normalized := strings.ToLower(strings.TrimSpace(req.Query))

	if n.enabled {
		words := strings.Fields(normalized)
		kept := words[:0]
		for _, w := range words {
			if _, stop := n.stopTokens[w]; stop {
				continue
			}
			kept = append(kept, w)
		}
		normalized = strings.Join(kept, " ")
	} else {
		// Collapse whitespace even when token stripping is off
		normalized = strings.Join(strings.Fields(normalized), " ")
	}

	sortedContext := make([]string, len(req.Context))
	copy(sortedContext, req.Context)
	sort.Strings(sortedContext)

	key := CacheKey{
		Query:       req.Query,
		Model:       req.Model,
		Context:     sortedContext,
		RequestType: req.RequestType,
		Normalized:  normalized,
	}
	key.hash = n.fingerprint(key)
	return key
}

// fingerprint hashes the normalized string and the partition dimensions.
// The model and context only participate when their partitioning is on, so
// a query can share one entry across models or cache separately per model.
func (n *Normalizer) fingerprint(key CacheKey) string {
	h := sha256.New()
	h.Write([]byte(key.Normalized))
	if n.cacheByModel {
		h.Write([]byte{0})
		h.Write([]byte(key.Model))
	}
	if n.cacheByContext {
		for _, c := range key.Context {
			h.Write([]byte{0x1f})
			h.Write([]byte(strings.ToLower(strings.TrimSpace(c))))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
