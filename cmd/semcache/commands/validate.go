package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuralcache/semcache/pkg/config"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cmd.Flag("config").Value.String()

			cfg, err := config.Parse(configPath)
			if err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}

			fmt.Printf("Configuration %s is valid\n", configPath)
			fmt.Printf("  eviction policy:      %s\n", cfg.Cache.EvictionPolicy)
			fmt.Printf("  similarity threshold: %.2f\n", cfg.Cache.SimilarityThreshold)
			fmt.Printf("  max cache size:       %d bytes\n", cfg.Cache.MaxCacheSizeBytes)
			fmt.Printf("  kv store backend:     %s\n", cfg.KVStore.Backend)
			fmt.Printf("  vector index backend: %s\n", cfg.VectorIndex.Backend)
			return nil
		},
	}
}
