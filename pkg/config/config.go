// Package config loads and validates the YAML configuration file and
// hot-applies changes to a running cache through a filesystem watcher.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/neuralcache/semcache/pkg/cache"
	"github.com/neuralcache/semcache/pkg/embedding"
	"github.com/neuralcache/semcache/pkg/kvstore"
	"github.com/neuralcache/semcache/pkg/vectorindex"
)

// Backend names accepted by the vector_index and kv_store blocks.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMilvus = "milvus"
)

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider string                 `yaml:"provider"`
	OpenAI   embedding.OpenAIConfig `yaml:"openai,omitempty"`
}

// VectorIndexConfig selects and configures the vector index backend.
type VectorIndexConfig struct {
	Backend string                   `yaml:"backend"`
	Redis   vectorindex.RedisConfig  `yaml:"redis,omitempty"`
	Milvus  vectorindex.MilvusConfig `yaml:"milvus,omitempty"`
}

// KVStoreConfig selects and configures the durable store backend.
type KVStoreConfig struct {
	Backend string              `yaml:"backend"`
	Redis   kvstore.RedisConfig `yaml:"redis,omitempty"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level,omitempty"`
	Encoding    string `yaml:"encoding,omitempty"`
	Development bool   `yaml:"development,omitempty"`
	AddCaller   bool   `yaml:"add_caller,omitempty"`
}

// FileConfig is the full on-disk configuration.
type FileConfig struct {
	Cache       cache.Config      `yaml:"cache"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	KVStore     KVStoreConfig     `yaml:"kv_store"`
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
}

// Default returns a configuration that runs entirely in memory, suitable
// for tests and single-process deployments.
func Default() *FileConfig {
	return &FileConfig{
		Cache: cache.DefaultConfig(),
		Embedding: EmbeddingConfig{
			Provider: "openai",
			OpenAI: embedding.OpenAIConfig{
				Model:     "text-embedding-3-small",
				Dimension: 512,
			},
		},
		VectorIndex: VectorIndexConfig{Backend: BackendMemory},
		KVStore:     KVStoreConfig{Backend: BackendMemory},
		Logging:     LoggingConfig{Level: "info", Encoding: "json"},
	}
}

// Parse reads and validates a config file. Unset fields keep their
// defaults, so a minimal file only overrides what it needs to.
func Parse(path string) (*FileConfig, error) {
	// Resolve symlinks so ConfigMap-style mounts read the live target
	resolved, _ := filepath.EvalSymlinks(path)
	if resolved == "" {
		resolved = path
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the full configuration, backend blocks included.
func (c *FileConfig) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}

	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.OpenAI.Dimension <= 0 {
			return fmt.Errorf("embedding.openai.dimension must be positive, got: %d", c.Embedding.OpenAI.Dimension)
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %q", c.Embedding.Provider)
	}

	switch c.VectorIndex.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.VectorIndex.Redis.Address == "" {
			return fmt.Errorf("vector_index.redis.address is required for the redis backend")
		}
	case BackendMilvus:
		if c.VectorIndex.Milvus.Address == "" {
			return fmt.Errorf("vector_index.milvus.address is required for the milvus backend")
		}
	default:
		return fmt.Errorf("unsupported vector_index backend: %q", c.VectorIndex.Backend)
	}

	switch c.KVStore.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.KVStore.Redis.Address == "" {
			return fmt.Errorf("kv_store.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported kv_store backend: %q", c.KVStore.Backend)
	}

	return nil
}
