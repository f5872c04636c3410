package main

import (
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/pipeline"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run failed detections from the dead letter queue",
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

		entries, err := st.DueDLQ(ctx, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "list due entries")
		}
		if len(entries) == 0 {
			zap.L().Info("dead letter queue empty, nothing to retry")
			return nil
		}

		p := pipeline.New(cfg, st, initLocker(st), initExplainer())

		var recovered, requeued int
		for _, entry := range entries {
			log := zap.L().With(
				zap.String("tenant", entry.TenantID),
				zap.String("entry_id", entry.ID),
				zap.Int("retry_count", entry.RetryCount),
			)

			_, runErr := p.Run(ctx, entry.TenantID)
			if errors.Is(runErr, pipeline.ErrAlreadyRunning) {
				log.Info("retry skipped, run already in progress")
				continue
			}

			// Resolve the old entry either way; a failed retry is requeued
			// below with its count carried forward.
			if err := st.ResolveDLQ(ctx, entry.ID); err != nil {
				log.Warn("failed to resolve entry", zap.Error(err))
			}

			if runErr != nil {
				entry.RetryCount++
				entry.LastFailedAt = time.Now().UTC()
				entry.Error = runErr.Error()
				if entry.RetryCount < entry.MaxRetries {
					backoff := time.Duration(math.Pow(2, float64(entry.RetryCount))) * 5 * time.Minute
					entry.NextRetryAt = entry.LastFailedAt.Add(backoff)
					entry.ID = ""
					if err := st.EnqueueDLQ(ctx, entry); err != nil {
						log.Warn("failed to requeue entry", zap.Error(err))
					}
					requeued++
				} else {
					log.Error("retries exhausted", zap.Error(runErr))
				}
				continue
			}

			recovered++
			log.Info("retry succeeded")
		}

		zap.L().Info("retry pass complete",
			zap.Int("due", len(entries)),
			zap.Int("recovered", recovered),
			zap.Int("requeued", requeued),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
