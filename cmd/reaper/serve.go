package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/api"
	"github.com/PlainFunction/cloudhandlers/internal/common/logging"
)

var serveFlags struct {
	port string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept reap triggers over HTTP",
	Long: `Serve the reaper HTTP endpoints:

  POST /pubsub/push  Pub/Sub push envelope whose data is base64 {"label":...,"zone":...}
  POST /v1/reap      the same payload as plain JSON
  GET  /health       dependency health
  GET  /metrics      Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.port, "port", "", "HTTP port (overrides REAPER_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveFlags.port != "" {
		cfg.ReaperPort = serveFlags.port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.NewVersionLogger(logger, cfg).Log("launched")

	registry := api.NewMetricsRegistry()
	deps, err := buildReaper(ctx, registry)
	if err != nil {
		return err
	}
	defer deps.Close()

	server := api.NewReaperServer(cfg, deps.reaper, deps.checks, registry, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting reaper", logging.Port(cfg.ReaperPort), logging.Project(cfg.ProjectID),
			zap.Bool("lock", cfg.LockEnabled), zap.String("version", cfg.Version))
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down", zap.Duration("drain", cfg.ReaperWriteTimeout))
	shutdownCtx, cancel := drainContext(cfg.ReaperWriteTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	return nil
}

// drainContext lets in-flight passes finish for as long as a push request may
// run. A zero timeout waits for them indefinitely.
func drainContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
