package main

import (
	"os/signal"
	"syscall"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchSchedule string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run detection batches on a cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		tenants, err := resolveTenants()
		if err != nil {
			return err
		}
		if len(tenants) == 0 {
			return eris.New("no tenants configured (set batch.tenants or --tenants-file)")
		}

		c := cron.New()
		err = c.AddFunc(watchSchedule, func() {
			summary := runBatch(ctx, st, tenants)
			zap.L().Info("scheduled batch complete",
				zap.Int("tenants", len(tenants)),
				zap.Int("succeeded", summary.succeeded),
				zap.Int("skipped", summary.skipped),
				zap.Int("failed", summary.failed),
			)
		})
		if err != nil {
			return eris.Wrapf(err, "invalid schedule %q", watchSchedule)
		}

		zap.L().Info("watch started",
			zap.String("schedule", watchSchedule),
			zap.Int("tenants", len(tenants)),
		)
		c.Start()
		defer c.Stop()

		<-ctx.Done()
		zap.L().Info("watch stopping")
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "@hourly", "cron schedule for detection batches")
	rootCmd.AddCommand(watchCmd)
}
