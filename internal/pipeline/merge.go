package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/config"
	"github.com/creatorpulse/trendwatch/internal/model"
	"github.com/creatorpulse/trendwatch/internal/store"
)

// mergeOutcome summarizes one merge pass for a tenant.
type mergeOutcome struct {
	Created int
	Updated int

	// NeedsExplanation holds trends that are brand-new or were promoted into
	// a higher status bucket this pass; only these get explanation calls.
	NeedsExplanation []model.Trend
}

// mergeCandidates matches each scored candidate against the tenant's active
// trends and either updates the match in place or creates a new trend.
//
// Matching prefers a case-insensitive exact label match, then keyword-set
// Jaccard similarity above the configured threshold. When a candidate
// matches several trends it merges into the strongest; the others keep
// decaying on their own. Two existing trends are never merged into one.
func mergeCandidates(ctx context.Context, st store.Store, cfg config.DetectionConfig, tenantID string, candidates []model.CandidateTopic, active []model.Trend, now time.Time) (*mergeOutcome, error) {
	outcome := &mergeOutcome{}

	// Active trends plus trends created during this pass; a later candidate
	// must be able to match a trend an earlier candidate just created.
	pool := make([]model.Trend, len(active))
	copy(pool, active)

	for _, cand := range candidates {
		idx := findMatch(pool, cand, cfg.MergeSimilarityThreshold)

		if idx < 0 {
			if cand.RawScore < cfg.MinConfidence {
				zap.L().Debug("candidate below confidence floor",
					zap.String("tenant", tenantID),
					zap.String("label", cand.Label),
					zap.Float64("raw_score", cand.RawScore),
				)
				continue
			}

			trend := newTrendFromCandidate(tenantID, cand, now)
			if err := st.UpsertTrend(ctx, trend); err != nil {
				return outcome, eris.Wrapf(err, "pipeline: create trend %q for %s", cand.Label, tenantID)
			}
			pool = append(pool, trend)
			outcome.Created++
			outcome.NeedsExplanation = append(outcome.NeedsExplanation, trend)
			continue
		}

		updated, promoted := applyCandidate(pool[idx], cand, now)
		if err := st.UpsertTrend(ctx, updated); err != nil {
			return outcome, eris.Wrapf(err, "pipeline: update trend %s for %s", updated.ID, tenantID)
		}
		pool[idx] = updated
		outcome.Updated++
		if promoted {
			outcome.NeedsExplanation = append(outcome.NeedsExplanation, updated)
		}
	}

	return outcome, nil
}

// findMatch returns the index of the trend the candidate should merge into,
// or -1. Label matches rank above similarity matches; within a rank, the
// strongest trend wins.
func findMatch(pool []model.Trend, cand model.CandidateTopic, threshold float64) int {
	bestLabel, bestSim := -1, -1
	for i, t := range pool {
		if !t.IsActive {
			continue
		}
		if strings.EqualFold(t.TopicLabel, cand.Label) {
			if bestLabel < 0 || t.Strength > pool[bestLabel].Strength {
				bestLabel = i
			}
			continue
		}
		if jaccard(t.Keywords, cand.Keywords) > threshold {
			if bestSim < 0 || t.Strength > pool[bestSim].Strength {
				bestSim = i
			}
		}
	}
	if bestLabel >= 0 {
		return bestLabel
	}
	return bestSim
}

// applyCandidate merges a candidate into an existing trend. Strength only
// moves up: the decayed value is the floor, the candidate's raw score the
// possible ceiling. Reports whether the trend moved into a higher status
// bucket.
func applyCandidate(t model.Trend, cand model.CandidateTopic, now time.Time) (model.Trend, bool) {
	oldStatus := t.Status

	if cand.RawScore > t.Strength {
		t.Strength = cand.RawScore
	}
	t.MentionCount = cand.MentionCount
	t.Velocity = cand.Velocity
	t.Sources = unionSorted(t.Sources, cand.Sources)
	t.SourceCount = len(t.Sources)
	t.Keywords = cand.Keywords
	t.KeyItemIDs = appendBounded(t.KeyItemIDs, cand.MemberItemIDs, model.MaxKeyItems)
	t.LastUpdated = now
	t.Status = model.StatusForStrength(t.Strength)

	return t, t.Status.Rank() > oldStatus.Rank()
}

func newTrendFromCandidate(tenantID string, cand model.CandidateTopic, now time.Time) model.Trend {
	return model.Trend{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		TopicLabel:   cand.Label,
		Keywords:     cand.Keywords,
		Strength:     cand.RawScore,
		MentionCount: cand.MentionCount,
		Velocity:     cand.Velocity,
		Sources:      cand.Sources,
		SourceCount:  cand.SourceCount,
		KeyItemIDs:   appendBounded(nil, cand.MemberItemIDs, model.MaxKeyItems),
		FirstSeen:    now,
		LastUpdated:  now,
		Status:       model.StatusForStrength(cand.RawScore),
		IsActive:     true,
	}
}

// jaccard computes |A ∩ B| / |A ∪ B| over case-folded keyword sets.
func jaccard(a, b []string) float64 {
	setA := foldSet(a)
	setB := foldSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	var intersection int
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func foldSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, s := range keywords {
		set[strings.ToLower(s)] = struct{}{}
	}
	return set
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func appendBounded(existing, incoming []string, bound int) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	out := existing
	for _, s := range incoming {
		if len(out) >= bound {
			break
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) > bound {
		out = out[:bound]
	}
	return out
}
