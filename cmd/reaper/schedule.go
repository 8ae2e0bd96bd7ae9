package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/services"
)

var scheduleFlags struct {
	label    string
	zone     string
	interval time.Duration
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run reap passes on a fixed interval",
	Long: `Run one reap pass immediately and then one every --interval until
interrupted. Failed passes are logged and the loop continues.`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringVar(&scheduleFlags.label, "label", "", "selector label key (defaults to REAPER_LABEL)")
	scheduleCmd.Flags().StringVar(&scheduleFlags.zone, "zone", "", "restrict listing to one zone (defaults to REAPER_ZONE)")
	scheduleCmd.Flags().DurationVar(&scheduleFlags.interval, "interval", 0, "time between passes (defaults to REAPER_INTERVAL)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	req, err := triggerRequest(scheduleFlags.label, scheduleFlags.zone, "")
	if err != nil {
		return err
	}
	interval := scheduleFlags.interval
	if interval <= 0 {
		interval = cfg.ReaperInterval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildReaper(ctx, nil)
	if err != nil {
		return err
	}
	defer deps.Close()

	logger.Info("reaper scheduled", zap.String("label", req.Label), zap.String("zone", req.Zone), zap.Duration("interval", interval))
	return services.NewReaperScheduler(deps.reaper, req, interval, logger).Start(ctx)
}
