// Package cmd defines and implements the CLI commands for the batchcrawl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/app"
	"github.com/JakeFAU/batchcrawl/internal/config"
	"github.com/JakeFAU/batchcrawl/internal/logging"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// Runner is what serve needs from the application.
type Runner interface {
	Run(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config) (Runner, error) {
	return app.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "batchcrawl",
		Short: "Configure and run batch web crawls.",
		Long: `batchcrawl crawls operator-defined lists of URLs at bounded concurrency,
with polite pacing, and keeps per-URL results that can be retried and exported.

Run "batchcrawl serve" to host the scheduler and API, then drive it with the
"batchcrawl batch" commands.`,
		SilenceUsage: true,

		// Loads .env and the config before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newBatchCmd())

	return cmd
}

// loadDotEnv reads path into the environment. A missing file is fine.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger, lerr := logging.New(true)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
