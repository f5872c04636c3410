package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/creatorpulse/trendwatch/internal/model"
)

func TestScoreWeightsSignals(t *testing.T) {
	s := NewScorer(testDetectionConfig())

	candidates := s.Score([]model.CandidateTopic{{
		Label:        "llm",
		MentionCount: 25, // volume 25/50 = 0.5
		Velocity:     1.5, // velocity 1.5/3 = 0.5
		SourceCount:  5,   // diversity 5/5 = 1.0
	}})

	// 0.3*0.5 + 0.4*0.5 + 0.3*1.0 = 0.65
	assert.InDelta(t, 0.65, candidates[0].RawScore, 1e-9)
}

func TestScoreClampsSaturatedSignals(t *testing.T) {
	s := NewScorer(testDetectionConfig())

	candidates := s.Score([]model.CandidateTopic{{
		MentionCount: 500, // far past saturation
		Velocity:     40,
		SourceCount:  30,
	}})

	assert.InDelta(t, 1.0, candidates[0].RawScore, 1e-9)
}

func TestScoreNegativeVelocityClampsToZero(t *testing.T) {
	s := NewScorer(testDetectionConfig())

	candidates := s.Score([]model.CandidateTopic{{
		MentionCount: 10,
		Velocity:     -0.9,
		SourceCount:  2,
	}})

	// velocity signal floors at 0: 0.3*(10/50) + 0 + 0.3*(2/5) = 0.18
	assert.InDelta(t, 0.18, candidates[0].RawScore, 1e-9)
	assert.GreaterOrEqual(t, candidates[0].RawScore, 0.0)
	assert.LessOrEqual(t, candidates[0].RawScore, 1.0)
}

func TestFilterCrossSourceDropsSingleSource(t *testing.T) {
	candidates := []model.CandidateTopic{
		{Label: "multi", SourceCount: 3},
		{Label: "single", SourceCount: 1},
		{Label: "pair", SourceCount: 2},
	}

	out := FilterCrossSource("t1", candidates)
	labels := make([]string, 0, len(out))
	for _, c := range out {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{"multi", "pair"}, labels)
}
