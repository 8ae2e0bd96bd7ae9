package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PlainFunction/cloudhandlers/internal/common/models"
	"github.com/PlainFunction/cloudhandlers/internal/services"
)

var runFlags struct {
	label   string
	zone    string
	payload string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single reap pass and print the result",
	Long: `Run one reap pass and print the JSON report to stdout.

The trigger is either --label/--zone or --payload, the base64 message body
a Pub/Sub subscription would deliver.`,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.label, "label", "", "selector label key (defaults to REAPER_LABEL)")
	runCmd.Flags().StringVar(&runFlags.zone, "zone", "", "restrict listing to one zone (defaults to REAPER_ZONE)")
	runCmd.Flags().StringVar(&runFlags.payload, "payload", "", "base64 encoded trigger payload")
	runCmd.MarkFlagsMutuallyExclusive("payload", "label")
	runCmd.MarkFlagsMutuallyExclusive("payload", "zone")
}

func runOnce(cmd *cobra.Command, args []string) error {
	req, err := triggerRequest(runFlags.label, runFlags.zone, runFlags.payload)
	if err != nil {
		return err
	}

	deps, err := buildReaper(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer deps.Close()

	resp, reapErr := deps.reaper.Reap(cmd.Context(), req)
	var partial *services.ReapError
	switch {
	case reapErr == nil:
	case errors.As(reapErr, &partial):
		resp = &models.ReapResponse{Deleted: partial.Deleted}
	default:
		return reapErr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return reapErr
}
