package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/creatorpulse/trendwatch/internal/db"
	"github.com/creatorpulse/trendwatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	pgxPool *pgxpool.Pool // nil in tests; used for advisory locks
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"list_active_trends": `SELECT id, tenant_id, topic_label, keywords, strength, mention_count, velocity, sources, source_count, key_item_ids, first_seen, last_updated, status, explanation, is_active FROM trends WHERE tenant_id = $1 AND is_active ORDER BY strength DESC`,
	"archive_trend":      `UPDATE trends SET status = 'archived', is_active = FALSE, last_updated = $1 WHERE id = $2 AND tenant_id = $3`,
	"fetch_items":        `SELECT id, tenant_id, title, summary, source, source_url, created_at FROM content_items WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at`,
	"insert_run":         `INSERT INTO detection_runs (id, tenant_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status":  `UPDATE detection_runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"insert_phase":       `INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_phase":     `UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, pgxPool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying pgx pool, or nil when the store is backed by a
// mock. Used to build the advisory run lock.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pgxPool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS content_items (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	title      TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_content_items_tenant_created ON content_items(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS trends (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	topic_label   TEXT NOT NULL,
	keywords      JSONB NOT NULL,
	strength      DOUBLE PRECISION NOT NULL,
	mention_count INTEGER NOT NULL DEFAULT 0,
	velocity      DOUBLE PRECISION NOT NULL DEFAULT 0,
	sources       JSONB NOT NULL,
	source_count  INTEGER NOT NULL DEFAULT 0,
	key_item_ids  JSONB NOT NULL,
	first_seen    TIMESTAMPTZ NOT NULL,
	last_updated  TIMESTAMPTZ NOT NULL,
	status        TEXT NOT NULL,
	explanation   TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_trends_tenant_active ON trends(tenant_id, is_active);
CREATE INDEX IF NOT EXISTS idx_trends_last_updated ON trends(last_updated);

CREATE TABLE IF NOT EXISTS detection_runs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_detection_runs_tenant ON detection_runs(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_detection_runs_status ON detection_runs(status);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES detection_runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	stage          TEXT NOT NULL,
	error          TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FetchItems(ctx context.Context, tenantID string, start, end time.Time) ([]model.ContentItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, title, summary, source, source_url, created_at
		 FROM content_items
		 WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at`,
		tenantID, start, end,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch items for %s", tenantID)
	}
	defer rows.Close()

	var items []model.ContentItem
	for rows.Next() {
		var it model.ContentItem
		if err := rows.Scan(&it.ID, &it.TenantID, &it.Title, &it.Summary, &it.Source, &it.SourceURL, &it.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan content item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: fetch items iterate")
}

func (s *PostgresStore) InsertItems(ctx context.Context, items []model.ContentItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(items))
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return 0, eris.Wrapf(err, "postgres: invalid content item %s", it.ID)
		}
		rows = append(rows, []any{it.ID, it.TenantID, it.Title, it.Summary, it.Source, it.SourceURL, it.CreatedAt.UTC()})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "content_items",
		Columns:      []string{"id", "tenant_id", "title", "summary", "source", "source_url", "created_at"},
		ConflictKeys: []string{"tenant_id", "id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert items")
	}
	return n, nil
}

func (s *PostgresStore) ListActiveTrends(ctx context.Context, tenantID string) ([]model.Trend, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, topic_label, keywords, strength, mention_count, velocity,
		        sources, source_count, key_item_ids, first_seen, last_updated, status, explanation, is_active
		 FROM trends
		 WHERE tenant_id = $1 AND is_active
		 ORDER BY strength DESC`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list active trends for %s", tenantID)
	}
	defer rows.Close()

	var trends []model.Trend
	for rows.Next() {
		t, err := scanTrend(rows)
		if err != nil {
			return nil, err
		}
		trends = append(trends, t)
	}
	return trends, eris.Wrap(rows.Err(), "postgres: list active trends iterate")
}

func (s *PostgresStore) UpsertTrend(ctx context.Context, t model.Trend) error {
	keywordsJSON, sourcesJSON, keyItemsJSON, err := marshalTrendFields(t)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO trends (
			id, tenant_id, topic_label, keywords, strength, mention_count, velocity,
			sources, source_count, key_item_ids, first_seen, last_updated, status, explanation, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			topic_label   = EXCLUDED.topic_label,
			keywords      = EXCLUDED.keywords,
			strength      = EXCLUDED.strength,
			mention_count = EXCLUDED.mention_count,
			velocity      = EXCLUDED.velocity,
			sources       = EXCLUDED.sources,
			source_count  = EXCLUDED.source_count,
			key_item_ids  = EXCLUDED.key_item_ids,
			last_updated  = EXCLUDED.last_updated,
			status        = EXCLUDED.status,
			explanation   = EXCLUDED.explanation,
			is_active     = EXCLUDED.is_active`,
		t.ID, t.TenantID, t.TopicLabel, keywordsJSON, t.Strength, t.MentionCount, t.Velocity,
		sourcesJSON, t.SourceCount, keyItemsJSON, t.FirstSeen.UTC(), t.LastUpdated.UTC(),
		string(t.Status), t.Explanation, t.IsActive,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert trend %s", t.ID)
	}
	return nil
}

// ArchiveTrend is scoped by tenant so one tenant's API surface can never
// archive another tenant's trend.
func (s *PostgresStore) ArchiveTrend(ctx context.Context, tenantID, trendID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trends SET status = 'archived', is_active = FALSE, last_updated = $1 WHERE id = $2 AND tenant_id = $3`,
		time.Now().UTC(), trendID, tenantID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: archive trend %s", trendID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("trend not found: %s", trendID)
	}
	return nil
}

func (s *PostgresStore) CountActiveTrends(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM trends WHERE is_active`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count active trends")
	}
	return n, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, tenantID string) (*model.DetectionRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO detection_runs (id, tenant_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, tenantID, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for %s", tenantID)
	}

	return &model.DetectionRun{
		ID:        id,
		TenantID:  tenantID,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE detection_runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	status := model.RunStatusComplete
	switch {
	case result.Error != "":
		status = model.RunStatusFailed
	case result.Skipped:
		status = model.RunStatusSkipped
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE detection_runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.DetectionRun, error) {
	var r model.DetectionRun
	var resultJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, status, result, created_at, updated_at FROM detection_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.TenantID, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if len(resultJSON) > 0 {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.DetectionRun, error) {
	query := `SELECT id, tenant_id, status, result, created_at, updated_at FROM detection_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.DetectionRun
	for rows.Next() {
		var r model.DetectionRun
		var resultJSON []byte

		if err := rows.Scan(&r.ID, &r.TenantID, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(resultJSON) > 0 {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal(resultJSON, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry model.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue (id, tenant_id, stage, error, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.TenantID, entry.Stage, entry.Error,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: enqueue dlq for %s", entry.TenantID)
}

func (s *PostgresStore) DueDLQ(ctx context.Context, now time.Time) ([]model.DLQEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, stage, error, retry_count, max_retries, next_retry_at, created_at, last_failed_at
		 FROM dead_letter_queue
		 WHERE next_retry_at <= $1 AND retry_count < max_retries
		 ORDER BY next_retry_at`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due dlq")
	}
	defer rows.Close()

	var entries []model.DLQEntry
	for rows.Next() {
		var e model.DLQEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Stage, &e.Error, &e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: due dlq iterate")
}

func (s *PostgresStore) ResolveDLQ(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve dlq %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM dead_letter_queue`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count dlq")
	}
	return n, nil
}

// scanTrend reads one trend row, decoding the JSONB list columns.
func scanTrend(row pgx.Row) (model.Trend, error) {
	var t model.Trend
	var keywordsJSON, sourcesJSON, keyItemsJSON []byte
	var status string

	err := row.Scan(
		&t.ID, &t.TenantID, &t.TopicLabel, &keywordsJSON, &t.Strength, &t.MentionCount, &t.Velocity,
		&sourcesJSON, &t.SourceCount, &keyItemsJSON, &t.FirstSeen, &t.LastUpdated, &status, &t.Explanation, &t.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, err
		}
		return t, eris.Wrap(err, "postgres: scan trend")
	}
	t.Status = model.TrendStatus(status)

	if err := json.Unmarshal(keywordsJSON, &t.Keywords); err != nil {
		return t, eris.Wrap(err, "postgres: unmarshal keywords")
	}
	if err := json.Unmarshal(sourcesJSON, &t.Sources); err != nil {
		return t, eris.Wrap(err, "postgres: unmarshal sources")
	}
	if err := json.Unmarshal(keyItemsJSON, &t.KeyItemIDs); err != nil {
		return t, eris.Wrap(err, "postgres: unmarshal key item ids")
	}
	return t, nil
}

func marshalTrendFields(t model.Trend) (keywords, sources, keyItems []byte, err error) {
	if keywords, err = json.Marshal(emptyIfNil(t.Keywords)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "postgres: marshal keywords")
	}
	if sources, err = json.Marshal(emptyIfNil(t.Sources)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "postgres: marshal sources")
	}
	if keyItems, err = json.Marshal(emptyIfNil(t.KeyItemIDs)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "postgres: marshal key item ids")
	}
	return keywords, sources, keyItems, nil
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
