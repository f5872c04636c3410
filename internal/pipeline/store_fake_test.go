package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creatorpulse/trendwatch/internal/model"
	"github.com/creatorpulse/trendwatch/internal/store"
)

// fakeStore is an in-memory store.Store for pipeline tests, with failure
// injection on trend writes and item reads.
type fakeStore struct {
	mu sync.Mutex

	items  []model.ContentItem
	trends map[string]model.Trend
	runs   map[string]*model.DetectionRun
	phases []model.RunPhase
	dlq    []model.DLQEntry

	upsertCalls     int
	failUpsertAfter int // fail the Nth UpsertTrend call (1-based); 0 disables
	failFetch       bool
}

func newFakeStore(items ...model.ContentItem) *fakeStore {
	return &fakeStore{
		items:  items,
		trends: make(map[string]model.Trend),
		runs:   make(map[string]*model.DetectionRun),
	}
}

func (f *fakeStore) FetchItems(_ context.Context, tenantID string, start, end time.Time) ([]model.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFetch {
		return nil, errors.New("content source unreachable")
	}
	var out []model.ContentItem
	for _, it := range f.items {
		if it.TenantID == tenantID && !it.CreatedAt.Before(start) && it.CreatedAt.Before(end) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertItems(_ context.Context, items []model.ContentItem) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
	return int64(len(items)), nil
}

func (f *fakeStore) ListActiveTrends(_ context.Context, tenantID string) ([]model.Trend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Trend
	for _, t := range f.trends {
		if t.TenantID == tenantID && t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertTrend(_ context.Context, t model.Trend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.failUpsertAfter > 0 && f.upsertCalls >= f.failUpsertAfter {
		return errors.New("store write failed")
	}
	f.trends[t.ID] = t
	return nil
}

func (f *fakeStore) ArchiveTrend(_ context.Context, tenantID, trendID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trends[trendID]
	if !ok || t.TenantID != tenantID {
		return errors.New("trend not found")
	}
	t.IsActive = false
	t.Status = model.TrendArchived
	f.trends[trendID] = t
	return nil
}

func (f *fakeStore) CountActiveTrends(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, t := range f.trends {
		if t.IsActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateRun(_ context.Context, tenantID string) (*model.DetectionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := &model.DetectionRun{
		ID:        fmt.Sprintf("run-%d", len(f.runs)+1),
		TenantID:  tenantID,
		Status:    model.RunStatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[runID]; ok {
		run.Status = status
	}
	return nil
}

func (f *fakeStore) UpdateRunResult(_ context.Context, runID string, result *model.RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	run.Result = result
	switch {
	case result.Error != "":
		run.Status = model.RunStatusFailed
	case result.Skipped:
		run.Status = model.RunStatusSkipped
	default:
		run.Status = model.RunStatusComplete
	}
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, runID string) (*model.DetectionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, errors.New("run not found")
	}
	return run, nil
}

func (f *fakeStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.DetectionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DetectionRun
	for _, run := range f.runs {
		if filter.TenantID != "" && run.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

func (f *fakeStore) CreatePhase(_ context.Context, runID, name string) (*model.RunPhase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	phase := model.RunPhase{
		ID:        fmt.Sprintf("phase-%d", len(f.phases)+1),
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: time.Now(),
	}
	f.phases = append(f.phases, phase)
	return &phase, nil
}

func (f *fakeStore) CompletePhase(_ context.Context, phaseID string, result *model.PhaseResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.phases {
		if f.phases[i].ID == phaseID {
			f.phases[i].Status = result.Status
			f.phases[i].Result = result
			return nil
		}
	}
	return errors.New("phase not found")
}

func (f *fakeStore) EnqueueDLQ(_ context.Context, entry model.DLQEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = append(f.dlq, entry)
	return nil
}

func (f *fakeStore) DueDLQ(_ context.Context, now time.Time) ([]model.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DLQEntry
	for _, e := range f.dlq {
		if !e.NextRetryAt.After(now) && e.RetryCount < e.MaxRetries {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) ResolveDLQ(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.dlq {
		if e.ID == id {
			f.dlq = append(f.dlq[:i], f.dlq[i+1:]...)
			return nil
		}
	}
	return errors.New("dlq entry not found")
}

func (f *fakeStore) CountDLQ(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dlq), nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Ping(context.Context) error    { return nil }
func (f *fakeStore) Close() error                  { return nil }

func (f *fakeStore) activeTrends(tenantID string) []model.Trend {
	out, _ := f.ListActiveTrends(context.Background(), tenantID)
	return out
}
