package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/api"
	"github.com/PlainFunction/cloudhandlers/internal/services"
)

// reaperDeps holds the reaper and everything that must be closed with it.
type reaperDeps struct {
	reaper  *services.ReaperService
	checks  map[string]api.HealthFunc
	closers []func() error
}

func (d *reaperDeps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

// buildReaper wires the compute client plus the optional lock, audit trail and
// metrics. reg may be nil.
func buildReaper(ctx context.Context, reg prometheus.Registerer) (*reaperDeps, error) {
	deps := &reaperDeps{checks: map[string]api.HealthFunc{}}

	compute, err := services.NewComputeClient(ctx, logger)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, compute.Close)

	opts := []services.ReaperOption{}
	if reg != nil {
		opts = append(opts, services.WithMetrics(services.NewReaperMetrics(reg)))
	}

	if cfg.LockEnabled {
		locker, err := services.NewRedisLocker(ctx, cfg.CacheAddr(), cfg.CachePassword, logger)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.closers = append(deps.closers, locker.Close)
		deps.checks["redis"] = locker.Ping
		opts = append(opts, services.WithLocker(locker, cfg.LockTTL))
	}

	if cfg.AuditDatabaseURL != "" {
		audit, err := services.OpenAuditService(ctx, cfg.AuditDatabaseURL, logger)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.closers = append(deps.closers, audit.Close)
		deps.checks["audit_db"] = audit.HealthCheck
		opts = append(opts, services.WithAudit(audit))
	}

	deps.reaper = services.NewReaperService(cfg.ProjectID, compute, logger, opts...)
	return deps, nil
}
