package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve interactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := setup(flags)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer a.Close()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.adapter.Run(ctx) })
			g.Go(func() error { return a.workflows.Run(ctx, cfg.Workflow.SweepInterval) })
			if cfg.Health.Addr != "" {
				g.Go(func() error { return a.health.Run(ctx, cfg.Health.Addr) })
			}
			logger.Info("bot started",
				"storage", cfg.Storage.Driver,
				"text", cfg.Features.Text,
				"image", cfg.Features.Image,
				"health_addr", cfg.Health.Addr,
			)

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("bot stopped", "error", err)
				return err
			}
			logger.Info("bot stopped")
			return nil
		},
	}
}
