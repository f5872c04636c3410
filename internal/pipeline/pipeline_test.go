package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorpulse/trendwatch/internal/config"
	"github.com/creatorpulse/trendwatch/internal/lock"
	"github.com/creatorpulse/trendwatch/internal/model"
)

type stubExplainer struct {
	text  string
	calls int
}

func (s *stubExplainer) Explain(context.Context, string, []string, []model.ContentItem) string {
	s.calls++
	return s.text
}

func testConfig() *config.Config {
	return &config.Config{
		Detection: testDetectionConfig(),
		Explain:   config.ExplainConfig{Enabled: false, MaxConcurrent: 2},
	}
}

func newTestPipeline(st *fakeStore, cfg *config.Config) *Pipeline {
	return New(cfg, st, lock.NewKeyed(time.Minute), &stubExplainer{})
}

// corpus builds n items about a topic spread over the given sources, all
// inside the current lookback window.
func corpus(topic string, n int, sources ...string) []model.ContentItem {
	items := make([]model.ContentItem, n)
	for i := range items {
		items[i] = model.ContentItem{
			ID:        fmt.Sprintf("%s-%d", topic, i),
			TenantID:  "t1",
			Title:     fmt.Sprintf("%s update number %d", topic, i),
			Summary:   fmt.Sprintf("coverage of %s momentum", topic),
			Source:    sources[i%len(sources)],
			CreatedAt: time.Now().Add(-time.Hour),
		}
	}
	return items
}

func TestRunCreatesTrendFromCrossSourceTopic(t *testing.T) {
	st := newFakeStore(corpus("claude", 25, "hn", "reddit", "blog")...)
	p := newTestPipeline(st, testConfig())

	result, err := p.Run(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 25, result.ItemsAnalyzed)
	assert.Equal(t, 1, result.TrendsCreated)
	assert.Empty(t, result.Error)

	trends := st.activeTrends("t1")
	require.Len(t, trends, 1)
	trend := trends[0]
	assert.Equal(t, "claude", trend.TopicLabel)
	assert.Equal(t, 3, trend.SourceCount)
	assert.Equal(t, model.StatusForStrength(trend.Strength), trend.Status)
	assert.Equal(t, model.TrendEmerging, trend.Status)
}

func TestRunSecondObservationMergesNotDuplicates(t *testing.T) {
	st := newFakeStore(corpus("claude", 25, "hn", "reddit", "blog")...)
	cfg := testConfig()
	p := newTestPipeline(st, cfg)

	_, err := p.Run(context.Background(), "t1")
	require.NoError(t, err)
	first := st.activeTrends("t1")
	require.Len(t, first, 1)

	// One hour later, the same topic is still being discussed.
	p.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	result, err := p.Run(context.Background(), "t1")
	require.NoError(t, err)

	assert.Zero(t, result.TrendsCreated)
	assert.Equal(t, 1, result.TrendsUpdated)

	second := st.activeTrends("t1")
	require.Len(t, second, 1, "repeat topics must merge, never duplicate")
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.True(t, second[0].LastUpdated.After(first[0].LastUpdated))
	assert.GreaterOrEqual(t, second[0].Strength, DecayStrength(first[0].Strength, time.Hour, cfg.Detection.HalfLife()))
	assert.Equal(t, first[0].FirstSeen, second[0].FirstSeen)
}

func TestRunQuietWindowStillDecays(t *testing.T) {
	st := newFakeStore() // no items at all
	now := time.Now().UTC()
	require.NoError(t, st.UpsertTrend(context.Background(), storedTrend("a", 0.8, now.Add(-12*time.Hour))))

	p := newTestPipeline(st, testConfig())
	result, err := p.Run(context.Background(), "t1")
	require.NoError(t, err)

	assert.Zero(t, result.CandidatesDetected)
	assert.Equal(t, 1, result.TrendsDecayed)
	assert.InDelta(t, 0.4, st.trends["a"].Strength, 0.01)
}

func TestRunDecayEventuallyArchives(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()
	// Old enough that strength falls below the archive threshold.
	require.NoError(t, st.UpsertTrend(context.Background(), storedTrend("a", 0.8, now.Add(-72*time.Hour))))

	p := newTestPipeline(st, testConfig())
	result, err := p.Run(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.TrendsArchived)
	assert.False(t, st.trends["a"].IsActive)
	assert.Equal(t, model.TrendArchived, st.trends["a"].Status)
}

func TestRunSingleSourceTopicBlocked(t *testing.T) {
	st := newFakeStore(corpus("rust", 10, "hn")...)
	p := newTestPipeline(st, testConfig())

	result, err := p.Run(context.Background(), "t1")
	require.NoError(t, err)

	assert.Zero(t, result.CandidatesDetected)
	assert.Empty(t, st.activeTrends("t1"))
}

func TestRunSkippedWhenLockHeld(t *testing.T) {
	st := newFakeStore(corpus("claude", 25, "hn", "reddit")...)
	locker := lock.NewKeyed(time.Minute)
	p := New(testConfig(), st, locker, &stubExplainer{})

	_, ok, err := locker.TryAcquire(context.Background(), "detect:t1")
	require.NoError(t, err)
	require.True(t, ok)

	result, err := p.Run(context.Background(), "t1")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, result.Skipped)
	assert.Empty(t, st.activeTrends("t1"), "a skipped run must not touch the store")
}

func TestRunInputErrorAbortsBeforeDecay(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()
	require.NoError(t, st.UpsertTrend(context.Background(), storedTrend("a", 0.8, now.Add(-12*time.Hour))))
	st.failFetch = true

	p := newTestPipeline(st, testConfig())
	result, err := p.Run(context.Background(), "t1")
	require.Error(t, err)

	assert.NotEmpty(t, result.Error)
	assert.Equal(t, "fetch", FailedStage(result))
	assert.InDelta(t, 0.8, st.trends["a"].Strength, 1e-9,
		"an unreachable content source must not trigger partial decay")
}

func TestRunPersistenceFailureMidMergeKeepsDecay(t *testing.T) {
	st := newFakeStore(corpus("claude", 25, "hn", "reddit", "blog")...)
	now := time.Now().UTC()
	require.NoError(t, st.UpsertTrend(context.Background(), storedTrend("unrelated", 0.8, now.Add(-12*time.Hour))))
	// Call 1 is the setup write, call 2 the decay write; the merge write fails.
	st.failUpsertAfter = 3

	p := newTestPipeline(st, testConfig())
	result, err := p.Run(context.Background(), "t1")
	require.Error(t, err)

	assert.Equal(t, "merge", FailedStage(result))
	assert.InDelta(t, 0.4, st.trends["unrelated"].Strength, 0.01,
		"decay writes that landed before the failure stay applied")
	assert.Zero(t, result.TrendsCreated)
}

func TestRunPersistsRunAndPhaseRecords(t *testing.T) {
	st := newFakeStore(corpus("claude", 25, "hn", "reddit")...)
	p := newTestPipeline(st, testConfig())

	result, err := p.Run(context.Background(), "t1")
	require.NoError(t, err)

	require.Len(t, st.runs, 1)
	for _, run := range st.runs {
		assert.Equal(t, model.RunStatusComplete, run.Status)
		require.NotNil(t, run.Result)
		assert.Equal(t, result.TrendsCreated, run.Result.TrendsCreated)
	}

	names := make([]string, 0, len(st.phases))
	for _, ph := range st.phases {
		names = append(names, ph.Name)
		assert.Equal(t, model.PhaseStatusComplete, ph.Status)
	}
	assert.Equal(t, []string{"fetch", "decay", "extract", "score", "merge"}, names)
}

func TestRunExplainsNewTrends(t *testing.T) {
	st := newFakeStore(corpus("claude", 25, "hn", "reddit", "blog")...)
	cfg := testConfig()
	cfg.Explain = config.ExplainConfig{Enabled: true, MaxConcurrent: 2}
	explainer := &stubExplainer{text: "three sources picked up the launch at once"}
	p := New(cfg, st, lock.NewKeyed(time.Minute), explainer)

	_, err := p.Run(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, explainer.calls)
	trends := st.activeTrends("t1")
	require.Len(t, trends, 1)
	assert.Equal(t, "three sources picked up the launch at once", trends[0].Explanation)
}
