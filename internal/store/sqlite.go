package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/creatorpulse/trendwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for single-node
// deployments that don't warrant a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS content_items (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	title      TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_content_items_tenant_created ON content_items(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS trends (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	topic_label   TEXT NOT NULL,
	keywords      TEXT NOT NULL,
	strength      REAL NOT NULL,
	mention_count INTEGER NOT NULL DEFAULT 0,
	velocity      REAL NOT NULL DEFAULT 0,
	sources       TEXT NOT NULL,
	source_count  INTEGER NOT NULL DEFAULT 0,
	key_item_ids  TEXT NOT NULL,
	first_seen    DATETIME NOT NULL,
	last_updated  DATETIME NOT NULL,
	status        TEXT NOT NULL,
	explanation   TEXT NOT NULL DEFAULT '',
	is_active     INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_trends_tenant_active ON trends(tenant_id, is_active);

CREATE TABLE IF NOT EXISTS detection_runs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detection_runs_tenant ON detection_runs(tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES detection_runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	stage          TEXT NOT NULL,
	error          TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FetchItems(ctx context.Context, tenantID string, start, end time.Time) ([]model.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, title, summary, source, source_url, created_at
		 FROM content_items
		 WHERE tenant_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at`,
		tenantID, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch items for %s", tenantID)
	}
	defer rows.Close()

	var items []model.ContentItem
	for rows.Next() {
		var it model.ContentItem
		if err := rows.Scan(&it.ID, &it.TenantID, &it.Title, &it.Summary, &it.Source, &it.SourceURL, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan content item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: fetch items iterate")
}

func (s *SQLiteStore) InsertItems(ctx context.Context, items []model.ContentItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert items")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO content_items (id, tenant_id, title, summary, source, source_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			source = excluded.source,
			source_url = excluded.source_url,
			created_at = excluded.created_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert items")
	}
	defer stmt.Close()

	var n int64
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return 0, eris.Wrapf(err, "sqlite: invalid content item %s", it.ID)
		}
		if _, err := stmt.ExecContext(ctx, it.ID, it.TenantID, it.Title, it.Summary, it.Source, it.SourceURL, it.CreatedAt.UTC()); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert item %s", it.ID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert items")
	}
	return n, nil
}

func (s *SQLiteStore) ListActiveTrends(ctx context.Context, tenantID string) ([]model.Trend, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, topic_label, keywords, strength, mention_count, velocity,
		        sources, source_count, key_item_ids, first_seen, last_updated, status, explanation, is_active
		 FROM trends
		 WHERE tenant_id = ? AND is_active = 1
		 ORDER BY strength DESC`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list active trends for %s", tenantID)
	}
	defer rows.Close()

	var trends []model.Trend
	for rows.Next() {
		var t model.Trend
		var keywordsJSON, sourcesJSON, keyItemsJSON, status string
		if err := rows.Scan(
			&t.ID, &t.TenantID, &t.TopicLabel, &keywordsJSON, &t.Strength, &t.MentionCount, &t.Velocity,
			&sourcesJSON, &t.SourceCount, &keyItemsJSON, &t.FirstSeen, &t.LastUpdated, &status, &t.Explanation, &t.IsActive,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trend")
		}
		t.Status = model.TrendStatus(status)
		if err := json.Unmarshal([]byte(keywordsJSON), &t.Keywords); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
		}
		if err := json.Unmarshal([]byte(sourcesJSON), &t.Sources); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sources")
		}
		if err := json.Unmarshal([]byte(keyItemsJSON), &t.KeyItemIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal key item ids")
		}
		trends = append(trends, t)
	}
	return trends, eris.Wrap(rows.Err(), "sqlite: list active trends iterate")
}

func (s *SQLiteStore) UpsertTrend(ctx context.Context, t model.Trend) error {
	keywordsJSON, sourcesJSON, keyItemsJSON, err := marshalTrendFields(t)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trends (
			id, tenant_id, topic_label, keywords, strength, mention_count, velocity,
			sources, source_count, key_item_ids, first_seen, last_updated, status, explanation, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			topic_label   = excluded.topic_label,
			keywords      = excluded.keywords,
			strength      = excluded.strength,
			mention_count = excluded.mention_count,
			velocity      = excluded.velocity,
			sources       = excluded.sources,
			source_count  = excluded.source_count,
			key_item_ids  = excluded.key_item_ids,
			last_updated  = excluded.last_updated,
			status        = excluded.status,
			explanation   = excluded.explanation,
			is_active     = excluded.is_active`,
		t.ID, t.TenantID, t.TopicLabel, string(keywordsJSON), t.Strength, t.MentionCount, t.Velocity,
		string(sourcesJSON), t.SourceCount, string(keyItemsJSON), t.FirstSeen.UTC(), t.LastUpdated.UTC(),
		string(t.Status), t.Explanation, boolToInt(t.IsActive),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert trend %s", t.ID)
	}
	return nil
}

func (s *SQLiteStore) ArchiveTrend(ctx context.Context, tenantID, trendID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trends SET status = 'archived', is_active = 0, last_updated = ? WHERE id = ? AND tenant_id = ?`,
		time.Now().UTC(), trendID, tenantID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: archive trend %s", trendID)
	}
	return checkRowsAffected(res, "trend", trendID)
}

func (s *SQLiteStore) CountActiveTrends(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM trends WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count active trends")
	}
	return n, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, tenantID string) (*model.DetectionRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detection_runs (id, tenant_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, tenantID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for %s", tenantID)
	}

	return &model.DetectionRun{
		ID:        id,
		TenantID:  tenantID,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE detection_runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	status := model.RunStatusComplete
	switch {
	case result.Error != "":
		status = model.RunStatusFailed
	case result.Skipped:
		status = model.RunStatusSkipped
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE detection_runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.DetectionRun, error) {
	var r model.DetectionRun
	var resultJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, status, result, created_at, updated_at FROM detection_runs WHERE id = ?`,
		runID,
	).Scan(&r.ID, &r.TenantID, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	if resultJSON.Valid && resultJSON.String != "" {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run result")
		}
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.DetectionRun, error) {
	query := `SELECT id, tenant_id, status, result, created_at, updated_at FROM detection_runs WHERE true`
	args := []any{}

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.DetectionRun
	for rows.Next() {
		var r model.DetectionRun
		var resultJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if resultJSON.Valid && resultJSON.String != "" {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal run result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry model.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue (id, tenant_id, stage, error, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.Stage, entry.Error,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: enqueue dlq for %s", entry.TenantID)
}

func (s *SQLiteStore) DueDLQ(ctx context.Context, now time.Time) ([]model.DLQEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, stage, error, retry_count, max_retries, next_retry_at, created_at, last_failed_at
		 FROM dead_letter_queue
		 WHERE next_retry_at <= ? AND retry_count < max_retries
		 ORDER BY next_retry_at`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due dlq")
	}
	defer rows.Close()

	var entries []model.DLQEntry
	for rows.Next() {
		var e model.DLQEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Stage, &e.Error, &e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: due dlq iterate")
}

func (s *SQLiteStore) ResolveDLQ(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve dlq %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM dead_letter_queue`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count dlq")
	}
	return n, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.New(fmt.Sprintf("%s not found: %s", kind, id))
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
