package store

import (
	"context"
	"time"

	"github.com/creatorpulse/trendwatch/internal/model"
)

// RunFilter specifies criteria for listing detection runs.
type RunFilter struct {
	TenantID     string          `json:"tenant_id,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the trend lifecycle engine.
type Store interface {
	// Content items
	FetchItems(ctx context.Context, tenantID string, start, end time.Time) ([]model.ContentItem, error)
	InsertItems(ctx context.Context, items []model.ContentItem) (int64, error)

	// Trends
	ListActiveTrends(ctx context.Context, tenantID string) ([]model.Trend, error)
	UpsertTrend(ctx context.Context, t model.Trend) error
	ArchiveTrend(ctx context.Context, tenantID, trendID string) error
	CountActiveTrends(ctx context.Context) (int, error)

	// Runs
	CreateRun(ctx context.Context, tenantID string) (*model.DetectionRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.DetectionRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.DetectionRun, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Dead letter queue for failed tenant runs
	EnqueueDLQ(ctx context.Context, entry model.DLQEntry) error
	DueDLQ(ctx context.Context, now time.Time) ([]model.DLQEntry, error)
	ResolveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
