package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which hosts the scheduler and HTTP API.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the batch scheduler and HTTP API",
		Long: `Builds the batch store, crawler and scheduler from the configuration,
pauses batches a previous process left running, and serves the HTTP API until
interrupted. Running batches are stopped gracefully on shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			runner, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return runner.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
