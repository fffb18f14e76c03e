package cache

import (
	"fmt"
)

// PolicyType selects the eviction policy under capacity pressure.
type PolicyType string

const (
	PolicyLRU               PolicyType = "lru"
	PolicyLFU               PolicyType = "lfu"
	PolicySemanticRelevance PolicyType = "semantic-relevance"
	PolicyHybrid            PolicyType = "hybrid"
)

// HybridWeights weights the composite score of the hybrid policy.
type HybridWeights struct {
	Recency   float64 `yaml:"recency"`
	Frequency float64 `yaml:"frequency"`
	Relevance float64 `yaml:"relevance"`
}

// Config is the runtime configuration shared by the store, eviction engine,
// manager, and warmer. Updates apply without restart and take effect on the
// next operation.
type Config struct {
	EnableResponseCaching    bool `yaml:"enable_response_caching"`
	EnableSemanticCaching    bool `yaml:"enable_semantic_caching"`
	EnableQueryNormalization bool `yaml:"enable_query_normalization"`

	// Partitioning: when set, the model / context participate in the cache
	// key, so identical queries against different models or contexts cache
	// independently.
	CacheByModel   bool `yaml:"cache_by_model"`
	CacheByContext bool `yaml:"cache_by_context"`

	// MinResponseQuality gates admission on Set; QualityThreshold gates
	// semantic candidates on Get.
	MinResponseQuality float64 `yaml:"min_response_quality"`
	QualityThreshold   float64 `yaml:"quality_threshold"`

	SimilarityThreshold float32 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`

	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
	// MaxCacheAgeSeconds caps per-entry TTLs (0 = uncapped)
	MaxCacheAgeSeconds int `yaml:"max_cache_age_seconds"`

	MaxCacheSizeBytes int64 `yaml:"max_cache_size_bytes"`
	// EvictionTargetFraction is the occupancy eviction drains to, as a
	// fraction of MaxCacheSizeBytes, to avoid thrash on every insert
	EvictionTargetFraction float64       `yaml:"eviction_target_fraction"`
	EvictionPolicy         PolicyType    `yaml:"eviction_policy"`
	HybridWeights          HybridWeights `yaml:"hybrid_weights"`

	CompressionEnabled        bool `yaml:"compression_enabled"`
	CompressionThresholdBytes int  `yaml:"compression_threshold_bytes"`

	SweepIntervalSeconds    int `yaml:"sweep_interval_seconds"`
	SweepBatchSize          int `yaml:"sweep_batch_size"`
	OptimizeIntervalSeconds int `yaml:"optimize_interval_seconds"`

	// LookupTimeoutMs bounds the embed+index portion of Get; on timeout the
	// lookup degrades to a miss (0 = unbounded)
	LookupTimeoutMs int `yaml:"lookup_timeout_ms"`

	WarmupEnabled     bool `yaml:"warmup_enabled"`
	WarmingBatchSize  int  `yaml:"warming_batch_size"`
	MaxWarmingQueries int  `yaml:"max_warming_queries"`

	StopTokens []string `yaml:"stop_tokens,omitempty"`
}

// DefaultConfig provides sensible defaults for a single-node deployment.
func DefaultConfig() Config {
	return Config{
		EnableResponseCaching:     true,
		EnableSemanticCaching:     true,
		EnableQueryNormalization:  true,
		CacheByModel:              true,
		MinResponseQuality:        0.5,
		QualityThreshold:          0.5,
		SimilarityThreshold:       0.85,
		TopK:                      5,
		DefaultTTLSeconds:         3600,
		MaxCacheSizeBytes:         256 << 20,
		EvictionTargetFraction:    0.9,
		EvictionPolicy:            PolicyLRU,
		HybridWeights:             HybridWeights{Recency: 1.0 / 3, Frequency: 1.0 / 3, Relevance: 1.0 / 3},
		CompressionEnabled:        true,
		CompressionThresholdBytes: 4096,
		SweepIntervalSeconds:      60,
		SweepBatchSize:            100,
		OptimizeIntervalSeconds:   300,
		LookupTimeoutMs:           2000,
		WarmingBatchSize:          10,
		MaxWarmingQueries:         1000,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be between 0.0 and 1.0, got: %f", c.SimilarityThreshold)
	}
	if c.MinResponseQuality < 0 || c.MinResponseQuality > 1 {
		return fmt.Errorf("min_response_quality must be between 0.0 and 1.0, got: %f", c.MinResponseQuality)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality_threshold must be between 0.0 and 1.0, got: %f", c.QualityThreshold)
	}
	if c.DefaultTTLSeconds < 0 {
		return fmt.Errorf("default_ttl_seconds cannot be negative, got: %d", c.DefaultTTLSeconds)
	}
	if c.MaxCacheSizeBytes < 0 {
		return fmt.Errorf("max_cache_size_bytes cannot be negative, got: %d", c.MaxCacheSizeBytes)
	}
	if c.EvictionTargetFraction <= 0 || c.EvictionTargetFraction > 1 {
		return fmt.Errorf("eviction_target_fraction must be in (0.0, 1.0], got: %f", c.EvictionTargetFraction)
	}
	switch c.EvictionPolicy {
	case "", PolicyLRU, PolicyLFU, PolicySemanticRelevance, PolicyHybrid:
	default:
		return fmt.Errorf("unsupported eviction_policy: %s", c.EvictionPolicy)
	}
	if c.EvictionPolicy == PolicyHybrid {
		sum := c.HybridWeights.Recency + c.HybridWeights.Frequency + c.HybridWeights.Relevance
		if sum <= 0 {
			return fmt.Errorf("hybrid_weights must sum to a positive value, got: %f", sum)
		}
	}
	return nil
}

// ConfigUpdate is a partial configuration merge. Nil fields keep their
// current value.
type ConfigUpdate struct {
	EnableResponseCaching     *bool
	EnableSemanticCaching     *bool
	EnableQueryNormalization  *bool
	CacheByModel              *bool
	CacheByContext            *bool
	MinResponseQuality        *float64
	QualityThreshold          *float64
	SimilarityThreshold       *float32
	TopK                      *int
	DefaultTTLSeconds         *int
	MaxCacheAgeSeconds        *int
	MaxCacheSizeBytes         *int64
	EvictionTargetFraction    *float64
	EvictionPolicy            *PolicyType
	HybridWeights             *HybridWeights
	CompressionEnabled        *bool
	CompressionThresholdBytes *int
	LookupTimeoutMs           *int
	WarmupEnabled             *bool
	WarmingBatchSize          *int
	MaxWarmingQueries         *int
	StopTokens                *[]string
}

// apply merges the update into a copy of cfg and returns it.
func (u ConfigUpdate) apply(cfg Config) Config {
	if u.EnableResponseCaching != nil {
		cfg.EnableResponseCaching = *u.EnableResponseCaching
	}
	if u.EnableSemanticCaching != nil {
		cfg.EnableSemanticCaching = *u.EnableSemanticCaching
	}
	if u.EnableQueryNormalization != nil {
		cfg.EnableQueryNormalization = *u.EnableQueryNormalization
	}
	if u.CacheByModel != nil {
		cfg.CacheByModel = *u.CacheByModel
	}
	if u.CacheByContext != nil {
		cfg.CacheByContext = *u.CacheByContext
	}
	if u.MinResponseQuality != nil {
		cfg.MinResponseQuality = *u.MinResponseQuality
	}
	if u.QualityThreshold != nil {
		cfg.QualityThreshold = *u.QualityThreshold
	}
	if u.SimilarityThreshold != nil {
		cfg.SimilarityThreshold = *u.SimilarityThreshold
	}
	if u.TopK != nil {
		cfg.TopK = *u.TopK
	}
	if u.DefaultTTLSeconds != nil {
		cfg.DefaultTTLSeconds = *u.DefaultTTLSeconds
	}
	if u.MaxCacheAgeSeconds != nil {
		cfg.MaxCacheAgeSeconds = *u.MaxCacheAgeSeconds
	}
	if u.MaxCacheSizeBytes != nil {
		cfg.MaxCacheSizeBytes = *u.MaxCacheSizeBytes
	}
	if u.EvictionTargetFraction != nil {
		cfg.EvictionTargetFraction = *u.EvictionTargetFraction
	}
	if u.EvictionPolicy != nil {
		cfg.EvictionPolicy = *u.EvictionPolicy
	}
	if u.HybridWeights != nil {
		cfg.HybridWeights = *u.HybridWeights
	}
	if u.CompressionEnabled != nil {
		cfg.CompressionEnabled = *u.CompressionEnabled
	}
	if u.CompressionThresholdBytes != nil {
		cfg.CompressionThresholdBytes = *u.CompressionThresholdBytes
	}
	if u.LookupTimeoutMs != nil {
		cfg.LookupTimeoutMs = *u.LookupTimeoutMs
	}
	if u.WarmupEnabled != nil {
		cfg.WarmupEnabled = *u.WarmupEnabled
	}
	if u.WarmingBatchSize != nil {
		cfg.WarmingBatchSize = *u.WarmingBatchSize
	}
	if u.MaxWarmingQueries != nil {
		cfg.MaxWarmingQueries = *u.MaxWarmingQueries
	}
	if u.StopTokens != nil {
		cfg.StopTokens = *u.StopTokens
	}
	return cfg
}
