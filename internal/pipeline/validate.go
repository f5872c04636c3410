package pipeline

import (
	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/model"
)

// FilterCrossSource drops candidates corroborated by fewer than two distinct
// sources. A single aggressive source can flood a window with one author's
// pet phrase; such topics are noise. This is a hard filter applied before
// scoring, not a score penalty.
func FilterCrossSource(tenantID string, candidates []model.CandidateTopic) []model.CandidateTopic {
	out := candidates[:0]
	for _, c := range candidates {
		if c.SourceCount < 2 {
			zap.L().Debug("dropping single-source candidate",
				zap.String("tenant", tenantID),
				zap.String("label", c.Label),
				zap.Int("mentions", c.MentionCount),
			)
			continue
		}
		out = append(out, c)
	}
	return out
}
