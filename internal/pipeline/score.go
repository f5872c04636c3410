package pipeline

import (
	"github.com/creatorpulse/trendwatch/internal/config"
	"github.com/creatorpulse/trendwatch/internal/model"
)

// Scorer combines mention volume, velocity, and source diversity into a
// single raw score in [0,1]. Velocity carries the largest weight: the engine
// looks for accelerating topics, not merely popular ones.
type Scorer struct {
	cfg config.DetectionConfig
}

// NewScorer creates a scorer with the given tunables. The weights are
// assumed validated (config.DetectionConfig.Validate).
func NewScorer(cfg config.DetectionConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score fills RawScore for every candidate.
func (s *Scorer) Score(candidates []model.CandidateTopic) []model.CandidateTopic {
	for i := range candidates {
		candidates[i].RawScore = s.scoreOne(candidates[i])
	}
	return candidates
}

func (s *Scorer) scoreOne(c model.CandidateTopic) float64 {
	volume := clamp01(float64(c.MentionCount) / s.cfg.VolumeSaturation)
	velocity := clamp01(c.Velocity / s.cfg.VelocitySaturation)
	diversity := clamp01(float64(c.SourceCount) / float64(s.cfg.MaxUsefulSources))

	w := s.cfg.Weights
	return clamp01(w.Volume*volume + w.Velocity*velocity + w.Diversity*diversity)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
