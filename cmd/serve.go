package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/avelin0/sage/internal/app"
	"github.com/avelin0/sage/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the retrieval HTTP service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, version, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
	}()

	logger.Info("sage starting", "version", version, "addr", cfg.ServeAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Syncer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return a.Server.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("sage stopped")
	return nil
}
