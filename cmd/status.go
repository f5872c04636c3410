package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/creatorpulse/trendwatch/internal/monitoring"
)

var statusLookbackHours int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a health snapshot of recent detection activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := monitoring.NewCollector(st).Collect(ctx, statusLookbackHours)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookbackHours, "hours", 24, "lookback window in hours")
	rootCmd.AddCommand(statusCmd)
}
