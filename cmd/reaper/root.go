package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
	"github.com/PlainFunction/cloudhandlers/internal/common/logging"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootFlags struct {
	project string
	lock    bool
}

var rootCmd = &cobra.Command{
	Use:   "reaper",
	Short: "Delete Compute Engine instances whose ttl label has expired",
	Long: `reaper lists instances carrying a selector label and deletes those older
than the number of minutes in their ttl label.

It can run once, on a fixed interval, or as an HTTP service that accepts
Pub/Sub push deliveries (for example from a Cloud Scheduler job).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if rootFlags.project != "" {
			cfg.ProjectID = rootFlags.project
		}
		if cmd.Flags().Changed("lock") {
			cfg.LockEnabled = rootFlags.lock
		}

		var err error
		logger, err = logging.New(logging.FromConfig(cfg, "reaper"))
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}

		if err := cfg.DiscoverProjectID(cmd.Context()); err != nil {
			return err
		}
		if cfg.ProjectID == "" {
			return fmt.Errorf("project id required (use --project or PROJECT_ID)")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.project, "project", "", "GCP project to reap (overrides PROJECT_ID)")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.lock, "lock", false, "guard deletions with a redis lock (overrides LOCK_ENABLED)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
