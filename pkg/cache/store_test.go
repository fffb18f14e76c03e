package cache

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralcache/semcache/pkg/kvstore"
	"github.com/neuralcache/semcache/pkg/vectorindex"
)

// stubProvider returns registered vectors for known texts and a
// deterministic pseudo-vector for everything else, so similarity
// between unrelated queries stays low and repeatable.
type stubProvider struct {
	dim     int
	vectors map[string][]float32
}

func newStubProvider(dim int) *stubProvider {
	return &stubProvider{dim: dim, vectors: make(map[string][]float32)}
}

func (p *stubProvider) register(text string, vec []float32) {
	p.vectors[text] = vec
}

func (p *stubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := p.vectors[text]; ok {
		out := make([]float32, p.dim)
		copy(out, vec)
		return out, nil
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, p.dim)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)])/255 - 0.5
	}
	return vec, nil
}

func (p *stubProvider) Dimension() int { return p.dim }

// failingProvider simulates an embedding outage.
type failingProvider struct{ dim int }

func (p failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func (p failingProvider) Dimension() int { return p.dim }

func newTestStore(t *testing.T, provider *stubProvider, mutate func(*Config)) (*Store, *Normalizer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CacheByModel = false
	cfg.LookupTimeoutMs = 0
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := NewStore(kvstore.NewMemoryStore(), vectorindex.NewMemory(), provider, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, NewNormalizer(cfg)
}

func TestStoreExactHit(t *testing.T) {
	provider := newStubProvider(8)
	store, norm := newTestStore(t, provider, nil)
	ctx := context.Background()

	key := norm.Normalize(CacheRequest{Query: "What is Go?"})
	md := EntryMetadata{Quality: 0.9, ResponseTimeMs: 1200, Cost: 0.02}
	require.NoError(t, store.Set(ctx, key, []byte("a programming language"), md))

	hit, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.IsExact)
	assert.Equal(t, float32(1.0), hit.Similarity)
	assert.Equal(t, []byte("a programming language"), hit.Entry.Response)
	assert.Equal(t, int64(1200), hit.TimeSavedMs)
	assert.Equal(t, 0.02, hit.CostSaved)
}

func TestStoreSetIsIdempotent(t *testing.T) {
	provider := newStubProvider(8)
	store, norm := newTestStore(t, provider, nil)
	ctx := context.Background()

	key := norm.Normalize(CacheRequest{Query: "idempotent query"})
	md := EntryMetadata{Quality: 0.9}
	require.NoError(t, store.Set(ctx, key, []byte("v1"), md))
	require.NoError(t, store.Touch(ctx, key.Hash(), 1.0))
	require.NoError(t, store.Touch(ctx, key.Hash(), 1.0))

	entry, err := store.loadEntry(ctx, key.Hash())
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.AccessCount)

	// Replacing the entry resets the access counter
	require.NoError(t, store.Set(ctx, key, []byte("v2"), md))
	assert.Equal(t, int64(1), store.EntryCount())

	entry, err = store.loadEntry(ctx, key.Hash())
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.AccessCount)
	assert.Equal(t, []byte("v2"), entry.Response)
}

func TestStoreExactMatchPrecedesSemantic(t *testing.T) {
	provider := newStubProvider(4)
	provider.register("query a", []float32{1, 0, 0, 0})
	// Identical vector: the semantic candidate would score 1.0
	provider.register("query b", []float32{1, 0, 0, 0})
	store, norm := newTestStore(t, provider, nil)
	ctx := context.Background()

	keyA := norm.Normalize(CacheRequest{Query: "query a"})
	keyB := norm.Normalize(CacheRequest{Query: "query b"})
	md := EntryMetadata{Quality: 0.9}
	require.NoError(t, store.Set(ctx, keyA, []byte("answer a"), md))
	require.NoError(t, store.Set(ctx, keyB, []byte("answer b"), md))

	hit, err := store.Get(ctx, keyA)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.IsExact)
	assert.Equal(t, []byte("answer a"), hit.Entry.Response)
}

func TestStoreSimilarityThresholdInclusive(t *testing.T) {
	provider := newStubProvider(4)
	provider.register("stored query", []float32{1, 0, 0, 0})
	// Identical direction scores exactly 1.0; the near miss scores well
	// below any realistic threshold
	provider.register("same direction", []float32{2, 0, 0, 0})
	provider.register("off axis", []float32{0, 1, 0, 0})

	store, norm := newTestStore(t, provider, func(cfg *Config) {
		cfg.SimilarityThreshold = 1.0
	})
	ctx := context.Background()

	md := EntryMetadata{Quality: 0.9}
	require.NoError(t, store.Set(ctx, norm.Normalize(CacheRequest{Query: "stored query"}), []byte("answer"), md))

	// similarity == threshold is accepted
	hit, err := store.Get(ctx, norm.Normalize(CacheRequest{Query: "same direction"}))
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.False(t, hit.IsExact)
	assert.Equal(t, float32(1.0), hit.Similarity)

	// anything below the threshold is a miss
	hit, err = store.Get(ctx, norm.Normalize(CacheRequest{Query: "off axis"}))
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestStoreBlankNormalizedQueryMisses(t *testing.T) {
	provider := newStubProvider(8)
	store, norm := newTestStore(t, provider, func(cfg *Config) {
		cfg.StopTokens = []string{"please"}
	})
	ctx := context.Background()

	// An entry stored under the blank hash must never be served
	blank := norm.Normalize(CacheRequest{Query: "   "})
	require.Equal(t, "", blank.Normalized)
	require.NoError(t, store.Set(ctx, blank, []byte("never served"), EntryMetadata{Quality: 0.9}))

	hit, err := store.Get(ctx, blank)
	require.NoError(t, err)
	assert.Nil(t, hit)

	// Queries made of nothing but stop tokens normalize to blank too;
	// without the policy miss they would all collide on one slot
	tokensOnly := norm.Normalize(CacheRequest{Query: "Please PLEASE"})
	require.Equal(t, "", tokensOnly.Normalized)
	require.Equal(t, blank.Hash(), tokensOnly.Hash())

	hit, err = store.Get(ctx, tokensOnly)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestStoreSemanticTieBreakPrefersRecency(t *testing.T) {
	provider := newStubProvider(4)
	provider.register("first stored", []float32{1, 0, 0, 0})
	provider.register("second stored", []float32{1, 0, 0, 0})
	// Same direction as both candidates: similarity is exactly 1.0 twice
	provider.register("related question", []float32{2, 0, 0, 0})

	store, norm := newTestStore(t, provider, nil)
	ctx := context.Background()

	md := EntryMetadata{Quality: 0.9}
	keyFirst := norm.Normalize(CacheRequest{Query: "first stored"})
	keySecond := norm.Normalize(CacheRequest{Query: "second stored"})
	require.NoError(t, store.Set(ctx, keyFirst, []byte("touched recently"), md))
	require.NoError(t, store.Set(ctx, keySecond, []byte("untouched"), md))

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Touch(ctx, keyFirst.Hash(), 1.0))

	hit, err := store.Get(ctx, norm.Normalize(CacheRequest{Query: "related question"}))
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.False(t, hit.IsExact)
	assert.Equal(t, float32(1.0), hit.Similarity)
	assert.Equal(t, []byte("touched recently"), hit.Entry.Response)
}

func TestBetterCandidateOrdering(t *testing.T) {
	now := time.Now()
	older := &CacheEntry{LastAccessed: now.Add(-time.Minute), AccessCount: 9}
	newer := &CacheEntry{LastAccessed: now, AccessCount: 1}

	// Higher similarity always wins
	if !betterCandidate(0.9, older, 0.8, newer) {
		t.Error("Expected higher similarity to win regardless of recency")
	}

	// Equal similarity: the most recently accessed entry wins
	if !betterCandidate(0.9, newer, 0.9, older) {
		t.Error("Expected the fresher entry to win an equal-similarity tie")
	}
	if betterCandidate(0.9, older, 0.9, newer) {
		t.Error("Expected the staler entry to lose an equal-similarity tie")
	}

	// Equal similarity and recency: the higher access count wins
	hot := &CacheEntry{LastAccessed: now, AccessCount: 5}
	if !betterCandidate(0.9, hot, 0.9, newer) {
		t.Error("Expected the higher access count to break the full tie")
	}
	if betterCandidate(0.9, newer, 0.9, hot) {
		t.Error("Expected the lower access count to lose the full tie")
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	provider := newStubProvider(8)
	store, norm := newTestStore(t, provider, func(cfg *Config) {
		cfg.DefaultTTLSeconds = 1
	})
	ctx := context.Background()

	key := norm.Normalize(CacheRequest{Query: "short lived"})
	require.NoError(t, store.Set(ctx, key, []byte("gone soon"), EntryMetadata{Quality: 0.9}))

	hit, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, hit)

	time.Sleep(1500 * time.Millisecond)

	hit, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestStoreQualityThresholdOnRead(t *testing.T) {
	provider := newStubProvider(4)
	provider.register("low quality stored", []float32{1, 0, 0, 0})
	provider.register("similar question", []float32{1, 0.01, 0, 0})

	store, norm := newTestStore(t, provider, func(cfg *Config) {
		cfg.QualityThreshold = 0.7
	})
	ctx := context.Background()

	key := norm.Normalize(CacheRequest{Query: "low quality stored"})
	require.NoError(t, store.Set(ctx, key, []byte("meh"), EntryMetadata{Quality: 0.4}))

	// Semantic candidates below the quality floor are skipped
	hit, err := store.Get(ctx, norm.Normalize(CacheRequest{Query: "similar question"}))
	require.NoError(t, err)
	assert.Nil(t, hit)

	// The exact path is not quality gated; the entry was admitted already
	hit, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.IsExact)
}

func TestStoreUnscoredQualityNotGated(t *testing.T) {
	provider := newStubProvider(4)
	provider.register("unscored stored", []float32{1, 0, 0, 0})
	provider.register("unscored nearby", []float32{2, 0, 0, 0})

	store, norm := newTestStore(t, provider, func(cfg *Config) {
		cfg.QualityThreshold = 0.7
	})
	ctx := context.Background()

	// Zero quality means the caller never scored the response; the
	// semantic quality gate only applies to scored entries
	key := norm.Normalize(CacheRequest{Query: "unscored stored"})
	require.NoError(t, store.Set(ctx, key, []byte("unrated"), EntryMetadata{}))

	hit, err := store.Get(ctx, norm.Normalize(CacheRequest{Query: "unscored nearby"}))
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.False(t, hit.IsExact)
	assert.Equal(t, []byte("unrated"), hit.Entry.Response)
}

func TestStoreContextPartitioning(t *testing.T) {
	provider := newStubProvider(4)
	provider.register("scoped question", []float32{1, 0, 0, 0})
	provider.register("scoped question reworded", []float32{1, 0, 0, 0})

	store, norm := newTestStore(t, provider, func(cfg *Config) {
		cfg.CacheByContext = true
	})
	ctx := context.Background()

	key := norm.Normalize(CacheRequest{Query: "scoped question", Context: []string{"tenant-a"}})
	md := EntryMetadata{Quality: 0.9, Context: []string{"tenant-a"}}
	require.NoError(t, store.Set(ctx, key, []byte("tenant a answer"), md))

	// Same meaning in a different context partition stays a miss on the
	// semantic path, just as it does on the exact path
	other := norm.Normalize(CacheRequest{Query: "scoped question reworded", Context: []string{"tenant-b"}})
	hit, err := store.Get(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, hit)

	// The matching context hits; comparison is case and whitespace folded
	matching := norm.Normalize(CacheRequest{Query: "scoped question reworded", Context: []string{" Tenant-A"}})
	hit, err = store.Get(ctx, matching)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.False(t, hit.IsExact)
	assert.Equal(t, []byte("tenant a answer"), hit.Entry.Response)
}

func TestStoreEmbeddingOutageDegradesToExactOnly(t *testing.T) {
	provider := newStubProvider(8)
	store, norm := newTestStore(t, provider, nil)
	ctx := context.Background()

	key := norm.Normalize(CacheRequest{Query: "resilient"})
	require.NoError(t, store.Set(ctx, key, []byte("still here"), EntryMetadata{Quality: 0.9}))

	store.provider = failingProvider{dim: 8}

	// Exact lookups keep working
	hit, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.IsExact)

	// Semantic lookups degrade to a miss, never an error
	other := norm.Normalize(CacheRequest{Query: "something else"})
	hit, err = store.Get(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, hit)

	// Writes surface the outage to the caller
	err = store.Set(ctx, other, []byte("x"), EntryMetadata{Quality: 0.9})
	var collab *CollaboratorError
	require.ErrorAs(t, err, &collab)
	assert.Equal(t, "embedding provider", collab.Collaborator)
}

func TestStoreCompressionRoundTrip(t *testing.T) {
	provider := newStubProvider(8)
	store, norm := newTestStore(t, provider, func(cfg *Config) {
		cfg.CompressionThresholdBytes = 64
	})
	ctx := context.Background()

	payload := []byte(strings.Repeat("a highly compressible response. ", 50))
	key := norm.Normalize(CacheRequest{Query: "compress me"})
	require.NoError(t, store.Set(ctx, key, payload, EntryMetadata{Quality: 0.9}))

	entry, err := store.loadEntry(ctx, key.Hash())
	require.NoError(t, err)
	assert.True(t, entry.Compressed)
	assert.Less(t, len(entry.Response), len(payload))

	hit, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.False(t, hit.Entry.Compressed)
	assert.Equal(t, payload, hit.Entry.Response)
}

func TestStoreInvalidate(t *testing.T) {
	provider := newStubProvider(8)
	store, norm := newTestStore(t, provider, nil)
	ctx := context.Background()

	md := EntryMetadata{Quality: 0.9, Model: "model-a"}
	require.NoError(t, store.Set(ctx, norm.Normalize(CacheRequest{Query: "weather in Paris"}), []byte("r1"), md))
	require.NoError(t, store.Set(ctx, norm.Normalize(CacheRequest{Query: "weather in Tokyo"}), []byte("r2"), md))
	require.NoError(t, store.Set(ctx, norm.Normalize(CacheRequest{Query: "population of Paris"}), []byte("r3"), md))

	removed, err := store.Invalidate(ctx, "paris", "")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, int64(1), store.EntryCount())

	// Invalidations do not count as evictions
	assert.Equal(t, int64(0), store.EvictionCount())

	removed, err = store.Invalidate(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, int64(0), store.EntryCount())
	assert.Equal(t, int64(0), store.StorageUsed())
}

func TestStoreOptimizeSweepsExpired(t *testing.T) {
	provider := newStubProvider(8)
	store, norm := newTestStore(t, provider, func(cfg *Config) {
		cfg.DefaultTTLSeconds = 1
		cfg.CompressionEnabled = false
	})
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, norm.Normalize(CacheRequest{Query: "q1"}), []byte("r1"), EntryMetadata{Quality: 0.9}))
	require.NoError(t, store.Set(ctx, norm.Normalize(CacheRequest{Query: "q2"}), []byte("r2"), EntryMetadata{Quality: 0.9}))

	// A later entry without a TTL must survive the sweep
	store.ApplyConfig(func() Config {
		cfg := store.config()
		cfg.DefaultTTLSeconds = 0
		return cfg
	}())
	keep := norm.Normalize(CacheRequest{Query: "keeper"})
	require.NoError(t, store.Set(ctx, keep, []byte("r3"), EntryMetadata{Quality: 0.9}))

	time.Sleep(1500 * time.Millisecond)

	result, err := store.Optimize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntriesEvicted)
	assert.Equal(t, int64(1), store.EntryCount())

	hit, err := store.Get(ctx, keep)
	require.NoError(t, err)
	require.NotNil(t, hit)
}

func TestStoreModelPartitioning(t *testing.T) {
	provider := newStubProvider(8)
	cfg := DefaultConfig()
	cfg.CacheByModel = true
	cfg.LookupTimeoutMs = 0
	store, err := NewStore(kvstore.NewMemoryStore(), vectorindex.NewMemory(), provider, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	norm := NewNormalizer(cfg)
	ctx := context.Background()

	keyA := norm.Normalize(CacheRequest{Query: "same question", Model: "model-a"})
	keyB := norm.Normalize(CacheRequest{Query: "same question", Model: "model-b"})
	require.NotEqual(t, keyA.Hash(), keyB.Hash())

	require.NoError(t, store.Set(ctx, keyA, []byte("from a"), EntryMetadata{Quality: 0.9, Model: "model-a"}))

	// The other model's partition misses, both exact and semantic
	hit, err := store.Get(ctx, keyB)
	require.NoError(t, err)
	assert.Nil(t, hit)

	hit, err = store.Get(ctx, keyA)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, []byte("from a"), hit.Entry.Response)
}
