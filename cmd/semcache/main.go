package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuralcache/semcache/cmd/semcache/commands"
	"github.com/neuralcache/semcache/pkg/observability/logging"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if _, err := logging.InitLoggerFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:   "semcache",
		Short: "Semantic response cache CLI",
		Long: `semcache manages a semantic response cache for LLM inference.

Common workflows:
  semcache validate           # Validate your configuration file
  semcache warm queries.yaml  # Pre-populate the cache from a query list
  semcache version            # Show version information

For detailed help on any command, use:
  semcache <command> --help`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	}

	rootCmd.PersistentFlags().StringP("config", "c", "config/semcache.yaml", "Path to configuration file")

	rootCmd.AddCommand(commands.NewValidateCmd())
	rootCmd.AddCommand(commands.NewWarmCmd())
	rootCmd.AddCommand(commands.NewVersionCmd(version, gitCommit, buildDate))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
