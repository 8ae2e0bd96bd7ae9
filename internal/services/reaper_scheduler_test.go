package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/models"
)

type countingReaper struct {
	calls atomic.Int32
	err   error
}

func (r *countingReaper) Reap(context.Context, models.ReapRequest) (*models.ReapResponse, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &models.ReapResponse{Deleted: []string{}}, nil
}

func TestReaperScheduler_Start_runs_periodically_and_stops_gracefully(t *testing.T) {
	reaper := &countingReaper{}
	scheduler := NewReaperScheduler(reaper, models.ReapRequest{Label: "env"}, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- scheduler.Start(ctx)
	}()

	<-ctx.Done()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}

	if n := reaper.calls.Load(); n < 2 {
		t.Errorf("reap passes = %d, want at least 2", n)
	}
}

func TestReaperScheduler_Start_survives_failed_passes(t *testing.T) {
	reaper := &countingReaper{err: errors.New("compute unavailable")}
	scheduler := NewReaperScheduler(reaper, models.ReapRequest{Label: "env"}, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		t.Errorf("Start() returned unexpected error: %v", err)
	}
	if n := reaper.calls.Load(); n < 2 {
		t.Errorf("reap passes = %d, want the loop to continue after failures", n)
	}
}

func TestReaperScheduler_Start_rejects_missing_label(t *testing.T) {
	reaper := &countingReaper{}
	scheduler := NewReaperScheduler(reaper, models.ReapRequest{}, time.Millisecond, zap.NewNop())

	if err := scheduler.Start(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
	if reaper.calls.Load() != 0 {
		t.Error("no pass should run without a label")
	}
}
