package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/models"
)

// Reaper is the single pass run by ReaperScheduler.
type Reaper interface {
	Reap(ctx context.Context, req models.ReapRequest) (*models.ReapResponse, error)
}

// ReaperScheduler runs a reap pass every interval until its context ends.
type ReaperScheduler struct {
	reaper   Reaper
	request  models.ReapRequest
	interval time.Duration
	logger   *zap.Logger
}

func NewReaperScheduler(reaper Reaper, req models.ReapRequest, interval time.Duration, logger *zap.Logger) *ReaperScheduler {
	return &ReaperScheduler{
		reaper:   reaper,
		request:  req,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
}

// Start runs one pass immediately and then one per tick. It returns nil on
// cancellation; failed passes are logged and do not stop the loop.
func (s *ReaperScheduler) Start(ctx context.Context) error {
	if err := ValidateReapRequest(s.request); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *ReaperScheduler) runOnce(ctx context.Context) {
	resp, err := s.reaper.Reap(ctx, s.request)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("reap pass failed", zap.Error(err))
		return
	}
	s.logger.Info("reap pass complete", zap.Int("deleted", len(resp.Deleted)), zap.Int("skipped", len(resp.Skipped)))
}
