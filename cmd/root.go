// Package cmd wires the cobra command tree for the orbit binary.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/config"
	"github.com/orbitlabs/orbit/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orbit",
		Short: "Resilient company-intelligence pipeline service.",
		Long: `orbit drives multi-stage company intelligence pipelines: it fetches a
subject's web pages, extracts structured facts, validates them and renders
dashboard artifacts, with rate limiting, circuit breaking, retry and a
persistent result cache around every remote call.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd(), newRunCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// bootstrap loads configuration and builds the logger shared by subcommands.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}
