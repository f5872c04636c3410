package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/pipeline"
)

var detectTenant string

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run trend detection for a single tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		p := pipeline.New(cfg, st, initLocker(st), initExplainer())

		result, err := p.Run(ctx, detectTenant)
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			zap.L().Info("detection already running", zap.String("tenant", detectTenant))
		} else if err != nil {
			parkFailure(ctx, st, result, detectTenant, err)
			return eris.Wrap(err, "run detection")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectTenant, "tenant", "", "tenant ID (required)")
	_ = detectCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(detectCmd)
}
