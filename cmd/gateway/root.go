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
	port        string
	project     string
	dlpProvider string
}

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Tokenization gateway backed by DLP deterministic encryption",
	Long: `gateway serves /tokenize and /detokenize over HTTP. Card records are
encrypted into deterministic surrogate tokens with Cloud DLP, or with the
in-process provider when DLP_PROVIDER=local.

The key comes from DLP_WRAPPED_KEY plus DLP_WRAPPED_KEY_RESOURCE_ID (a
KMS-wrapped key) or from DLP_UNWRAPPED_KEY. Both key values are base64.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if rootFlags.port != "" {
			cfg.APIPort = rootFlags.port
		}
		if rootFlags.project != "" {
			cfg.ProjectID = rootFlags.project
		}
		if rootFlags.dlpProvider != "" {
			cfg.DLPProvider = rootFlags.dlpProvider
		}

		var err error
		logger, err = logging.New(logging.FromConfig(cfg, "gateway"))
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
	RunE: runGateway,
}

func init() {
	rootCmd.Flags().StringVar(&rootFlags.port, "port", "", "HTTP port (overrides API_PORT)")
	rootCmd.Flags().StringVar(&rootFlags.project, "project", "", "default GCP project (overrides PROJECT_ID)")
	rootCmd.Flags().StringVar(&rootFlags.dlpProvider, "dlp-provider", "", "DLP provider: cloud or local (overrides DLP_PROVIDER)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
