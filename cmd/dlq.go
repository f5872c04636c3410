package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/model"
	"github.com/creatorpulse/trendwatch/internal/pipeline"
	"github.com/creatorpulse/trendwatch/internal/resilience"
	"github.com/creatorpulse/trendwatch/internal/store"
)

// parkRetry covers the DLQ write itself: the run usually failed on a store
// error, so the park gets a few transient retries before giving up.
var parkRetry = func() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("store", "enqueue_dlq")
	return cfg
}()

// parkFailure records a failed tenant run in the dead letter queue so the
// retry command picks it up once the backoff horizon passes.
func parkFailure(ctx context.Context, st store.Store, result *model.RunResult, tenantID string, runErr error) {
	now := time.Now().UTC()
	entry := model.DLQEntry{
		TenantID:     tenantID,
		Stage:        pipeline.FailedStage(result),
		Error:        runErr.Error(),
		MaxRetries:   3,
		NextRetryAt:  now.Add(5 * time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	err := resilience.Do(ctx, parkRetry, func(ctx context.Context) error {
		return st.EnqueueDLQ(ctx, entry)
	})
	if err != nil {
		zap.L().Warn("failed to park run for retry",
			zap.String("tenant", tenantID),
			zap.Error(err),
		)
	}
}
