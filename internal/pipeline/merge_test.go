package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorpulse/trendwatch/internal/model"
)

func candidate(label string, score float64, keywords ...string) model.CandidateTopic {
	if len(keywords) == 0 {
		keywords = []string{label}
	}
	return model.CandidateTopic{
		Label:         label,
		Keywords:      keywords,
		MemberItemIDs: []string{label + "-item-1", label + "-item-2"},
		MentionCount:  8,
		Velocity:      1.2,
		Sources:       []string{"hn", "reddit"},
		SourceCount:   2,
		RawScore:      score,
	}
}

func TestMergeCreatesNewTrend(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()

	outcome, err := mergeCandidates(context.Background(), st, testDetectionConfig(), "t1",
		[]model.CandidateTopic{candidate("rust", 0.8)}, nil, now)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Created)
	assert.Zero(t, outcome.Updated)
	require.Len(t, outcome.NeedsExplanation, 1)

	trends := st.activeTrends("t1")
	require.Len(t, trends, 1)
	created := trends[0]
	assert.Equal(t, "rust", created.TopicLabel)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, now, created.FirstSeen)
	assert.Equal(t, now, created.LastUpdated)
	assert.Equal(t, model.TrendEmerging, created.Status)
	assert.True(t, created.IsActive)
}

func TestMergeBelowConfidenceFloorNotPersisted(t *testing.T) {
	st := newFakeStore()

	outcome, err := mergeCandidates(context.Background(), st, testDetectionConfig(), "t1",
		[]model.CandidateTopic{candidate("faint", 0.05)}, nil, time.Now().UTC())
	require.NoError(t, err)

	assert.Zero(t, outcome.Created)
	assert.Empty(t, st.activeTrends("t1"))
}

func TestMergeLabelMatchUpdatesInPlace(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()
	existing := storedTrend("a", 0.5, now.Add(-time.Hour))
	existing.TopicLabel = "Rust"
	existing.Keywords = []string{"rust", "compiler"}
	require.NoError(t, st.UpsertTrend(context.Background(), existing))

	outcome, err := mergeCandidates(context.Background(), st, testDetectionConfig(), "t1",
		[]model.CandidateTopic{candidate("rust", 0.9, "rust", "borrow", "checker")},
		[]model.Trend{existing}, now)
	require.NoError(t, err)

	assert.Zero(t, outcome.Created)
	assert.Equal(t, 1, outcome.Updated)

	trends := st.activeTrends("t1")
	require.Len(t, trends, 1, "label match must never create a second row")
	updated := trends[0]
	assert.Equal(t, "a", updated.ID, "identity is stable across merges")
	assert.InDelta(t, 0.9, updated.Strength, 1e-9)
	assert.Equal(t, existing.FirstSeen, updated.FirstSeen)
	assert.Equal(t, now, updated.LastUpdated)
	assert.Equal(t, model.TrendEmerging, updated.Status)
	// Promoted from trending to emerging, so it needs a fresh explanation.
	require.Len(t, outcome.NeedsExplanation, 1)
	assert.Equal(t, "a", outcome.NeedsExplanation[0].ID)
}

func TestMergeNeverLowersStrengthBelowDecayedFloor(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()
	existing := storedTrend("a", 0.6, now)
	existing.TopicLabel = "rust"
	require.NoError(t, st.UpsertTrend(context.Background(), existing))

	_, err := mergeCandidates(context.Background(), st, testDetectionConfig(), "t1",
		[]model.CandidateTopic{candidate("rust", 0.2)}, []model.Trend{existing}, now)
	require.NoError(t, err)

	assert.InDelta(t, 0.6, st.trends["a"].Strength, 1e-9,
		"a weak observation must not undercut the decayed strength")
}

func TestMergeJaccardMatch(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()
	existing := storedTrend("a", 0.5, now)
	existing.TopicLabel = "wasm"
	existing.Keywords = []string{"wasm", "runtime", "browser", "sandbox"}
	require.NoError(t, st.UpsertTrend(context.Background(), existing))

	// Different label, 3/4 keyword overlap: above the 0.7 threshold.
	cand := candidate("webassembly", 0.6, "wasm", "runtime", "browser")
	cand.Keywords = []string{"wasm", "runtime", "browser"}

	outcome, err := mergeCandidates(context.Background(), st, testDetectionConfig(), "t1",
		[]model.CandidateTopic{cand}, []model.Trend{existing}, now)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Updated)
	assert.Len(t, st.activeTrends("t1"), 1)
}

func TestMergeTieBreakPrefersStrongerTrend(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()

	weak := storedTrend("weak", 0.3, now)
	weak.TopicLabel = "llm"
	strong := storedTrend("strong", 0.6, now)
	strong.TopicLabel = "llm"
	require.NoError(t, st.UpsertTrend(context.Background(), weak))
	require.NoError(t, st.UpsertTrend(context.Background(), strong))

	outcome, err := mergeCandidates(context.Background(), st, testDetectionConfig(), "t1",
		[]model.CandidateTopic{candidate("llm", 0.9)}, []model.Trend{weak, strong}, now)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Updated)
	assert.InDelta(t, 0.9, st.trends["strong"].Strength, 1e-9)
	// The weaker twin is left to decay on its own, never auto-merged away.
	assert.InDelta(t, 0.3, st.trends["weak"].Strength, 1e-9)
	assert.True(t, st.trends["weak"].IsActive)
}

func TestMergeSecondCandidateMatchesTrendCreatedThisPass(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()

	outcome, err := mergeCandidates(context.Background(), st, testDetectionConfig(), "t1",
		[]model.CandidateTopic{
			candidate("rust", 0.8),
			candidate("Rust", 0.5),
		}, nil, now)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Created)
	assert.Equal(t, 1, outcome.Updated)
	assert.Len(t, st.activeTrends("t1"), 1, "duplicate labels within one pass must collapse")
}

func TestMergeArchivedTrendsNeverMatch(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()
	archived := storedTrend("old", 0.05, now)
	archived.TopicLabel = "rust"
	archived.IsActive = false
	archived.Status = model.TrendArchived
	require.NoError(t, st.UpsertTrend(context.Background(), archived))

	outcome, err := mergeCandidates(context.Background(), st, testDetectionConfig(), "t1",
		[]model.CandidateTopic{candidate("rust", 0.8)}, []model.Trend{archived}, now)
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Created, "archived trends are excluded from matching")
	assert.False(t, st.trends["old"].IsActive)
}

func TestMergeWriteFailureAbortsRemaining(t *testing.T) {
	st := newFakeStore()
	st.failUpsertAfter = 2

	outcome, err := mergeCandidates(context.Background(), st, testDetectionConfig(), "t1",
		[]model.CandidateTopic{
			candidate("first", 0.8),
			candidate("second", 0.7),
			candidate("third", 0.6),
		}, nil, time.Now().UTC())
	require.Error(t, err)

	assert.Equal(t, 1, outcome.Created, "work before the failure is kept")
	assert.Len(t, st.activeTrends("t1"), 1)
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, jaccard([]string{"a", "b"}, []string{"B", "A"}), 1e-9)
	assert.InDelta(t, 0.5, jaccard([]string{"a", "b", "c"}, []string{"a", "b", "d"}), 1e-9)
	assert.InDelta(t, 0.0, jaccard([]string{"a"}, []string{"b"}), 1e-9)
	assert.InDelta(t, 0.0, jaccard(nil, nil), 1e-9)
}

func TestAppendBounded(t *testing.T) {
	out := appendBounded([]string{"a", "b"}, []string{"b", "c", "d", "e", "f"}, 5)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, out)
}
