package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowtrace/flowtrace/internal/observability"
	"github.com/flowtrace/flowtrace/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored task events over HTTP",
	Long: `Serve a read-only HTTP surface over the event database:

  GET /healthz
  GET /version
  GET /api/runs
  GET /api/runs/{runID}/tasks

Reads run concurrently with any writer process thanks to WAL mode.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Listen host (overrides config)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	backend := openBackend()
	if err := backend.Init(cmd.Context()); err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	host := cfg.Server.Host
	port := cfg.Server.Port
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		port = v
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(host, port, backend, observability.CLILogger)
	return srv.ListenAndServe(ctx)
}
