package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbitlabs/orbit/internal/app"
	"github.com/orbitlabs/orbit/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var (
		variant string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "run <subject>",
		Short: "Run one pipeline to completion, streaming progress to stdout.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := application.Close(closeCtx); err != nil {
					logger.Warn("service shutdown incomplete")
				}
			}()

			run, err := application.Orchestrator.Run(ctx, args[0], variant, pipeline.RunOptions{
				ForceRefresh: force,
			})
			if err != nil {
				return fmt.Errorf("start run: %w", err)
			}

			for evt := range run.Events() {
				fmt.Printf("[%s] %5.1f%% %-12s %s\n",
					evt.TS.Format(time.TimeOnly), evt.Pct, evt.Stage, evt.Message)
				if evt.Err != nil {
					return fmt.Errorf("run failed at %s (%s): %s",
						evt.Err.Stage, evt.Err.Kind, evt.Err.Message)
				}
				if evt.Terminal && evt.Stage == string(pipeline.StageCancelled) {
					return fmt.Errorf("run cancelled")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "standard", "dashboard variant to render")
	cmd.Flags().BoolVar(&force, "force", false, "skip the cache read and force a full run")
	return cmd
}
