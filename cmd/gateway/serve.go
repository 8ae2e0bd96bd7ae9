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
	grpcutil "github.com/PlainFunction/cloudhandlers/internal/common/grpc"
	"github.com/PlainFunction/cloudhandlers/internal/common/logging"
	"github.com/PlainFunction/cloudhandlers/internal/common/types"
	"github.com/PlainFunction/cloudhandlers/internal/services"
)

const healthServiceName = "cloudhandlers.Gateway"

func runGateway(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logging.NewVersionLogger(logger, cfg).Log("launched")

	if err := cfg.DiscoverProjectID(ctx); err != nil {
		logger.Warn("project discovery failed", zap.Error(err))
	}
	if cfg.ProjectID == "" {
		logger.Warn("no default project configured; requests must name one")
	}

	key, err := services.BuildCryptoKey(cfg.DLP, logger)
	if err != nil {
		return err
	}
	client, err := services.NewDLPClient(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var (
		auditLog    types.AuditLogger
		auditReader types.AuditReader
	)
	checks := map[string]api.HealthFunc{}
	if cfg.AuditDatabaseURL != "" {
		audit, err := services.OpenAuditService(ctx, cfg.AuditDatabaseURL, logger)
		if err != nil {
			client.Close()
			return err
		}
		defer audit.Close()
		auditLog, auditReader = audit, audit
		checks["audit_db"] = audit.HealthCheck
	}

	tokenizer := services.NewTokenizerService(cfg, client, key, auditLog, logger)
	defer tokenizer.Close()

	health, err := grpcutil.NewServer(cfg.GRPCHealthPort, cfg.Environment == "development", logger)
	if err != nil {
		return err
	}
	go func() {
		if err := health.Start(); err != nil {
			logger.Error("grpc health server error", zap.Error(err))
		}
	}()
	health.SetServing(healthServiceName, true)

	server := api.NewServer(cfg, tokenizer, auditReader, checks, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting gateway", logging.Port(cfg.APIPort), logging.Project(cfg.ProjectID),
			zap.String("dlp_provider", cfg.DLPProvider), zap.String("version", cfg.Version))
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		health.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	health.SetServing(healthServiceName, false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	health.Stop()
	return nil
}
