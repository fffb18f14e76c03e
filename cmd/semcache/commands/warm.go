package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neuralcache/semcache/pkg/cache"
	"github.com/neuralcache/semcache/pkg/config"
	"github.com/neuralcache/semcache/pkg/embedding"
	"github.com/neuralcache/semcache/pkg/kvstore"
	"github.com/neuralcache/semcache/pkg/vectorindex"
)

// warmupFile is the on-disk shape of a warmup query list.
type warmupFile struct {
	Queries []cache.WarmupQuery `yaml:"queries"`
}

// NewWarmCmd creates the warm command.
func NewWarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm <queries-file>",
		Short: "Pre-populate the cache from a YAML query list",
		Long: `Reads a YAML file of warmup queries and writes the ones carrying an
expected response into the cache, highest priority first. Queries without a
response are reported as pending; warm never generates responses itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cmd.Flag("config").Value.String()

			cfg, err := config.Parse(configPath)
			if err != nil {
				return err
			}
			if !cfg.Cache.WarmupEnabled {
				return fmt.Errorf("warmup is disabled in %s (set cache.warmup_enabled: true)", configPath)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read queries file: %w", err)
			}
			var file warmupFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("failed to parse queries file: %w", err)
			}

			manager, err := buildManager(cfg)
			if err != nil {
				return err
			}
			defer manager.Close()

			warmer := cache.NewWarmer(manager)
			result, err := warmer.Warmup(cmd.Context(), file.Queries)
			if err != nil {
				return err
			}

			fmt.Printf("Warmed %d entries (%d failed, %d skipped, %d pending without a response)\n",
				result.Warmed, result.Failed, result.Skipped, len(result.Pending))
			return nil
		},
	}
}

// buildManager assembles the cache stack from a parsed configuration.
func buildManager(cfg *config.FileConfig) (*cache.Manager, error) {
	provider, err := embedding.NewOpenAIProvider(cfg.Embedding.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding provider: %w", err)
	}

	var kv kvstore.Store
	switch cfg.KVStore.Backend {
	case config.BackendRedis:
		kv, err = kvstore.NewRedisStore(cfg.KVStore.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis kv store: %w", err)
		}
	default:
		kv = kvstore.NewMemoryStore()
	}

	var index vectorindex.Index
	switch cfg.VectorIndex.Backend {
	case config.BackendRedis:
		index, err = vectorindex.NewRedis(cfg.VectorIndex.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis vector index: %w", err)
		}
	case config.BackendMilvus:
		index, err = vectorindex.NewMilvus(cfg.VectorIndex.Milvus)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to milvus: %w", err)
		}
	default:
		index = vectorindex.NewMemory()
	}

	store, err := cache.NewStore(kv, index, provider, cfg.Cache)
	if err != nil {
		return nil, err
	}
	return cache.NewManager(store, cfg.Cache)
}
