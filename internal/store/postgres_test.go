package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/model"
)

func init() {
	// Replace global logger with a no-op to avoid nil pointer panics in tests.
	zap.ReplaceGlobals(zap.NewNop())
}

// newMockStore builds a PostgresStore backed by a pgxmock pool.
func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func trendColumns() []string {
	return []string{
		"id", "tenant_id", "topic_label", "keywords", "strength", "mention_count", "velocity",
		"sources", "source_count", "key_item_ids", "first_seen", "last_updated", "status", "explanation", "is_active",
	}
}

func TestFetchItems(t *testing.T) {
	st, mock := newMockStore(t)

	start := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	created := start.Add(time.Hour)

	mock.ExpectQuery("SELECT id, tenant_id, title, summary, source, source_url, created_at").
		WithArgs("acme", start, end).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "title", "summary", "source", "source_url", "created_at"}).
			AddRow("item-1", "acme", "Agents in production", "teams shipping agents", "rss", "https://example.com/1", created).
			AddRow("item-2", "acme", "Agent rollouts", "", "youtube", "", created.Add(time.Minute)))

	items, err := st.FetchItems(context.Background(), "acme", start, end)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "item-1", items[0].ID)
	assert.Equal(t, "rss", items[0].Source)
	assert.Equal(t, "youtube", items[1].Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveTrends(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM trends").
		WithArgs("acme").
		WillReturnRows(pgxmock.NewRows(trendColumns()).
			AddRow("t-1", "acme", "ai agents", []byte(`["agents","deploy"]`), 0.8, 12, 1.5,
				[]byte(`["rss","youtube"]`), 2, []byte(`["item-1"]`), now.Add(-24*time.Hour), now,
				"emerging", "", true))

	trends, err := st.ListActiveTrends(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, trends, 1)
	assert.Equal(t, "ai agents", trends[0].TopicLabel)
	assert.Equal(t, []string{"agents", "deploy"}, trends[0].Keywords)
	assert.Equal(t, model.TrendEmerging, trends[0].Status)
	assert.True(t, trends[0].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTrend(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO trends").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.UpsertTrend(context.Background(), model.Trend{
		ID:         "t-1",
		TenantID:   "acme",
		TopicLabel: "ai agents",
		Keywords:   []string{"agents"},
		Strength:   0.8,
		Sources:    []string{"rss", "youtube"},
		KeyItemIDs: []string{"item-1"},
		Status:     model.TrendEmerging,
		IsActive:   true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveTrendNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE trends SET status = 'archived'").
		WithArgs(pgxmock.AnyArg(), "missing", "acme").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.ArchiveTrend(context.Background(), "acme", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trend not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRun(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO detection_runs").
		WithArgs(pgxmock.AnyArg(), "acme", string(model.RunStatusQueued), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := st.CreateRun(context.Background(), "acme")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "acme", run.TenantID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunResultDerivesStatus(t *testing.T) {
	cases := []struct {
		name   string
		result *model.RunResult
		status model.RunStatus
	}{
		{"complete", &model.RunResult{TenantID: "acme", TrendsCreated: 2}, model.RunStatusComplete},
		{"failed", &model.RunResult{TenantID: "acme", Error: "merge: boom"}, model.RunStatusFailed},
		{"skipped", &model.RunResult{TenantID: "acme", Skipped: true}, model.RunStatusSkipped},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, mock := newMockStore(t)

			mock.ExpectExec("UPDATE detection_runs SET result").
				WithArgs(pgxmock.AnyArg(), string(tc.status), pgxmock.AnyArg(), "run-1").
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))

			err := st.UpdateRunResult(context.Background(), "run-1", tc.result)
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetRunDecodesResult(t *testing.T) {
	st, mock := newMockStore(t)

	resultJSON, err := json.Marshal(&model.RunResult{TenantID: "acme", TrendsCreated: 3, ItemsAnalyzed: 40})
	require.NoError(t, err)

	now := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM detection_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "status", "result", "created_at", "updated_at"}).
			AddRow("run-1", "acme", "complete", resultJSON, now, now))

	run, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run.Result)
	assert.Equal(t, 3, run.Result.TrendsCreated)
	assert.Equal(t, 40, run.Result.ItemsAnalyzed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsAppliesFilters(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM detection_runs WHERE true AND tenant_id").
		WithArgs("acme", "failed", 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "status", "result", "created_at", "updated_at"}).
			AddRow("run-2", "acme", "failed", []byte(nil), now, now))

	runs, err := st.ListRuns(context.Background(), RunFilter{TenantID: "acme", Status: model.RunStatusFailed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPhaseLifecycle(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO run_phases").
		WithArgs(pgxmock.AnyArg(), "run-1", "extract", string(model.PhaseStatusRunning), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE run_phases SET status").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	phase, err := st.CreatePhase(context.Background(), "run-1", "extract")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseStatusRunning, phase.Status)

	err = st.CompletePhase(context.Background(), phase.ID, &model.PhaseResult{
		Status:   model.PhaseStatusComplete,
		Duration: 120,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDLQLifecycle(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO dead_letter_queue").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM dead_letter_queue").
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "stage", "error", "retry_count", "max_retries", "next_retry_at", "created_at", "last_failed_at"}).
			AddRow("dlq-1", "acme", "merge", "merge: boom", 1, 3, now.Add(-time.Minute), now.Add(-time.Hour), now.Add(-time.Minute)))
	mock.ExpectExec("DELETE FROM dead_letter_queue").
		WithArgs("dlq-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := st.EnqueueDLQ(context.Background(), model.DLQEntry{
		TenantID:     "acme",
		Stage:        "merge",
		Error:        "merge: boom",
		RetryCount:   1,
		MaxRetries:   3,
		NextRetryAt:  now.Add(-time.Minute),
		CreatedAt:    now.Add(-time.Hour),
		LastFailedAt: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	due, err := st.DueDLQ(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "merge", due[0].Stage)
	assert.Equal(t, 1, due[0].RetryCount)

	require.NoError(t, st.ResolveDLQ(context.Background(), due[0].ID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActiveTrends(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM trends`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := st.CountActiveTrends(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
