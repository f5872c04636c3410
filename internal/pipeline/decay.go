package pipeline

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/model"
	"github.com/creatorpulse/trendwatch/internal/store"
)

// DecayStrength applies exponential half-life decay to a strength value.
// Zero or negative elapsed time leaves strength unchanged, which makes an
// immediate retry of a failed run a no-op.
func DecayStrength(strength float64, elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 || halfLife <= 0 {
		return strength
	}
	return strength * math.Pow(0.5, float64(elapsed)/float64(halfLife))
}

// decayOutcome summarizes one decay pass over a tenant's active trends.
type decayOutcome struct {
	// Active holds the post-decay trends still eligible for merging.
	Active   []model.Trend
	Decayed  int
	Archived int
}

// decayActive ages every active trend for the tenant since its last_updated
// timestamp and persists the result. Trends whose decayed strength falls
// below the archive threshold are archived and excluded from the returned
// set. Each trend persists independently; a write failure aborts the pass,
// but writes that already landed stay — decay keyed off last_updated is safe
// to re-apply.
func decayActive(ctx context.Context, st store.Store, tenantID string, halfLife time.Duration, now time.Time) (*decayOutcome, error) {
	trends, err := st.ListActiveTrends(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list active trends for %s", tenantID)
	}

	outcome := &decayOutcome{}
	for _, t := range trends {
		elapsed := now.Sub(t.LastUpdated)
		decayed := DecayStrength(t.Strength, elapsed, halfLife)

		t.Strength = decayed
		t.LastUpdated = now
		t.Status = model.StatusForStrength(decayed)

		if decayed < model.ArchiveThreshold {
			t.IsActive = false
			if err := st.UpsertTrend(ctx, t); err != nil {
				return nil, eris.Wrapf(err, "pipeline: archive trend %s for %s", t.ID, tenantID)
			}
			outcome.Archived++
			zap.L().Info("trend archived by decay",
				zap.String("tenant", tenantID),
				zap.String("trend_id", t.ID),
				zap.String("label", t.TopicLabel),
				zap.Float64("strength", decayed),
			)
			continue
		}

		if err := st.UpsertTrend(ctx, t); err != nil {
			return nil, eris.Wrapf(err, "pipeline: persist decay for trend %s of %s", t.ID, tenantID)
		}
		outcome.Decayed++
		outcome.Active = append(outcome.Active, t)
	}

	return outcome, nil
}
