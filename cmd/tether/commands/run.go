package commands

import (
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		listen   string
		category string
		autosend bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stay connected to the primary and record inbound messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &appCtx.Config
			if listen != "" {
				cfg.Ingest.Listen = listen
			}
			if category != "" {
				cfg.Reports.Category = category
			}
			if cmd.Flags().Changed("autosend") {
				cfg.Reports.Autosend = autosend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			appCtx.Log.Info().Msg("running; interrupt to stop")
			return appCtx.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "ingest", "", "serve the HTTP ingest endpoint on this address")
	cmd.Flags().StringVar(&category, "report-category", "", "category that receives reports posted to /reports")
	cmd.Flags().BoolVar(&autosend, "autosend", false, "send posted reports at once instead of holding them as drafts")
	return cmd
}
