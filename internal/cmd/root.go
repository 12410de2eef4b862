// Package cmd implements the flowtrace CLI.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/flowtrace/flowtrace/internal/config"
	"github.com/flowtrace/flowtrace/internal/observability"
	"github.com/flowtrace/flowtrace/pkg/eventstore"
)

var (
	cfgFile   string
	storePath string
	logLevel  string
	logFormat string

	// cfg is loaded once in the root PersistentPreRunE and read by
	// subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "flowtrace",
	Short: "Record and export workflow task lifecycle events",
	Long: `flowtrace records lifecycle events of tasks produced by a workflow
orchestrator, grouped by a caller-supplied correlation key, and makes
the accumulated events queryable as a flattened table.

Events are persisted through a durable SQLite-backed store with a
single serialized writer; exports render the stored rows as CSV or
JSONL for downstream reporting.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd.Context(), cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		// Flags override file and environment values.
		if storePath != "" {
			cfg.Store.Path = storePath
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}

		return observability.Init(cfg.Log.Level, cfg.Log.Format)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./flowtrace.yaml)")
	rootCmd.PersistentFlags().StringVar(&storePath, "db", "", "Event database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")
}

// Execute runs the CLI.
func Execute() error {
	defer observability.Sync()
	return rootCmd.Execute()
}

// openBackend builds a durable backend from the effective config.
// Callers own the Close.
func openBackend() *eventstore.DurableBackend {
	return eventstore.NewDurableBackend(eventstore.DurableConfig{
		Path:                  cfg.Store.Path,
		Logger:                observability.CLILogger,
		PollInterval:          cfg.Store.PollInterval,
		DrainTimeout:          cfg.Store.DrainTimeout,
		BackpressureThreshold: cfg.Store.BackpressureThreshold,
	})
}
