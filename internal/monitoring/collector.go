// Package monitoring builds point-in-time health snapshots over the run
// history, for the status command and the HTTP status endpoint.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/creatorpulse/trendwatch/internal/model"
	"github.com/creatorpulse/trendwatch/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Run metrics within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsSkipped  int     `json:"runs_skipped"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Aggregated trend movement across completed runs.
	TrendsCreated  int `json:"trends_created"`
	TrendsUpdated  int `json:"trends_updated"`
	TrendsArchived int `json:"trends_archived"`

	// Current state.
	ActiveTrends int `json:"active_trends"`
	DLQDepth     int `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusSkipped:
			snap.RunsSkipped++
		}
		if r.Result != nil {
			snap.TrendsCreated += r.Result.TrendsCreated
			snap.TrendsUpdated += r.Result.TrendsUpdated
			snap.TrendsArchived += r.Result.TrendsArchived
		}
	}

	// Skips are expected under load; only finished runs count toward the
	// failure rate.
	finished := snap.RunsComplete + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	active, err := c.store.CountActiveTrends(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count active trends")
	}
	snap.ActiveTrends = active

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
