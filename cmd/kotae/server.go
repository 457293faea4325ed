package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/watcher"
)

func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Long: `Start the HTTP API.

Routes:
  POST /api/v1/cab/match     multipart upload (field "image", optional "top_k")
  POST /api/v1/cab/rebuild   rebuild the index from the catalog
  GET  /api/v1/cab/stats     index statistics
  GET  /health`,
		Args: cobra.NoArgs,
		RunE: runServer,
	}
	cmd.Flags().Bool("watch", false, "Rebuild automatically when the catalog or images change (overrides watch.enabled)")
	return cmd
}

func runServer(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	cfg, logger := e.cfg, e.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}
	defer components.Close()
	svc := components.Matcher

	if stats := svc.Stats(); stats.TotalImages == 0 {
		logger.Warn("Index is empty; POST /api/v1/cab/rebuild or run `kotae rebuild` to build it")
	} else {
		logger.Info("Index loaded", zap.Int("total_images", stats.TotalImages))
	}

	watchEnabled := cfg.Watch.Enabled
	if cmd.Flags().Changed("watch") {
		watchEnabled, _ = cmd.Flags().GetBool("watch")
	}
	if watchEnabled {
		w := watcher.NewWatcher(cfg.Catalog.Path, cfg.Catalog.ImagesDir,
			func(ctx context.Context) {
				report, _, err := svc.Rebuild(ctx)
				if err != nil {
					logger.Warn("auto rebuild failed", zap.Error(err))
					return
				}
				logger.Info("auto rebuild finished",
					zap.Int("success_count", report.SuccessCount),
					zap.Int("total_count", report.TotalCount))
			},
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMillis)*time.Millisecond),
			watcher.WithLogger(logger),
		)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer w.Stop()
	}

	srv := server.NewServer(svc, &cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
