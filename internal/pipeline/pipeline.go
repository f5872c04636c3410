// Package pipeline implements the trend lifecycle engine: topic extraction,
// velocity, cross-source validation, scoring, and the decay+merge pass that
// keeps the trend store duplicate-free and bounded.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/creatorpulse/trendwatch/internal/config"
	"github.com/creatorpulse/trendwatch/internal/lock"
	"github.com/creatorpulse/trendwatch/internal/model"
	"github.com/creatorpulse/trendwatch/internal/store"
)

// ErrAlreadyRunning is returned when a detection run is skipped because
// another run holds the tenant's lock. Skips are expected under load and
// are reported distinctly from failures.
var ErrAlreadyRunning = eris.New("pipeline: detection already running for tenant")

// Pipeline runs trend detection for one tenant at a time.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	locker    lock.Locker
	extractor *Extractor
	scorer    *Scorer
	explainer Explainer

	nowFunc func() time.Time
}

// New creates a pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, locker lock.Locker, explainer Explainer) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		locker:    locker,
		extractor: NewExtractor(cfg.Detection),
		scorer:    NewScorer(cfg.Detection),
		explainer: explainer,
		nowFunc:   time.Now,
	}
}

// Run executes one detection pass for the tenant. The whole pass holds the
// tenant's run lock; a pass that cannot acquire it is skipped and reported
// with ErrAlreadyRunning, not failed.
func (p *Pipeline) Run(ctx context.Context, tenantID string) (*model.RunResult, error) {
	log := zap.L().With(zap.String("tenant", tenantID))
	result := &model.RunResult{TenantID: tenantID}

	release, ok, err := p.locker.TryAcquire(ctx, "detect:"+tenantID)
	if err != nil {
		result.Error = err.Error()
		return result, eris.Wrapf(err, "pipeline: acquire run lock for %s", tenantID)
	}
	if !ok {
		log.Info("detection skipped, run already in progress")
		result.Skipped = true
		return result, ErrAlreadyRunning
	}
	defer release()

	run, err := p.store.CreateRun(ctx, tenantID)
	if err != nil {
		result.Error = err.Error()
		return result, eris.Wrapf(err, "pipeline: create run for %s", tenantID)
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("detection starting")

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("failed to update run status", zap.Error(statusErr))
		}
	}

	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("failed to create phase record", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else if phaseResult.Status == "" {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			_ = p.store.CompletePhase(ctx, phase.ID, phaseResult)
		}
		result.Phases = append(result.Phases, *phaseResult)
		return fnErr
	}

	finish := func(runErr error) (*model.RunResult, error) {
		if runErr != nil {
			result.Error = runErr.Error()
		}
		if updateErr := p.store.UpdateRunResult(ctx, run.ID, result); updateErr != nil {
			log.Warn("failed to persist run result", zap.Error(updateErr))
		}
		if runErr != nil {
			return result, runErr
		}
		log.Info("detection complete",
			zap.Int("candidates", result.CandidatesDetected),
			zap.Int("created", result.TrendsCreated),
			zap.Int("updated", result.TrendsUpdated),
			zap.Int("archived", result.TrendsArchived),
		)
		return result, nil
	}

	now := p.nowFunc().UTC()
	lookback := p.cfg.Detection.Lookback()

	// Fetch both windows up front. Input errors abort before any decay or
	// merge write touches the store.
	var items, historical []model.ContentItem
	setStatus(model.RunStatusFetching)
	err = trackPhase("fetch", func() (*model.PhaseResult, error) {
		var fetchErr error
		items, fetchErr = p.store.FetchItems(ctx, tenantID, now.Add(-lookback), now)
		if fetchErr != nil {
			return nil, eris.Wrapf(fetchErr, "pipeline: fetch current window for %s", tenantID)
		}
		historical, fetchErr = p.store.FetchItems(ctx, tenantID, now.Add(-2*lookback), now.Add(-lookback))
		if fetchErr != nil {
			return nil, eris.Wrapf(fetchErr, "pipeline: fetch historical window for %s", tenantID)
		}
		result.ItemsAnalyzed = len(items)
		return &model.PhaseResult{Metadata: map[string]any{
			"items":      len(items),
			"historical": len(historical),
		}}, nil
	})
	if err != nil {
		return finish(err)
	}

	// Phase A. Every active trend ages every run, whether or not a matching
	// candidate shows up; this is the natural cooldown.
	var decay *decayOutcome
	err = trackPhase("decay", func() (*model.PhaseResult, error) {
		var decayErr error
		decay, decayErr = decayActive(ctx, p.store, tenantID, p.cfg.Detection.HalfLife(), now)
		if decayErr != nil {
			return nil, decayErr
		}
		result.TrendsDecayed = decay.Decayed
		result.TrendsArchived = decay.Archived
		return &model.PhaseResult{Metadata: map[string]any{
			"decayed":  decay.Decayed,
			"archived": decay.Archived,
		}}, nil
	})
	if err != nil {
		return finish(err)
	}

	var candidates []model.CandidateTopic
	setStatus(model.RunStatusExtracting)
	_ = trackPhase("extract", func() (*model.PhaseResult, error) {
		candidates = p.extractor.Extract(items)
		if len(candidates) == 0 {
			// Quiet window: decay already applied, nothing to merge.
			return &model.PhaseResult{Metadata: map[string]any{"clusters": 0}}, nil
		}
		candidates = AnnotateVelocity(candidates, historical)
		return &model.PhaseResult{Metadata: map[string]any{"clusters": len(candidates)}}, nil
	})

	setStatus(model.RunStatusScoring)
	_ = trackPhase("score", func() (*model.PhaseResult, error) {
		candidates = FilterCrossSource(tenantID, candidates)
		candidates = p.scorer.Score(candidates)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].RawScore > candidates[j].RawScore
		})
		if len(candidates) > p.cfg.Detection.MaxTrends {
			candidates = candidates[:p.cfg.Detection.MaxTrends]
		}
		result.CandidatesDetected = len(candidates)
		return &model.PhaseResult{Metadata: map[string]any{"candidates": len(candidates)}}, nil
	})

	// Phase B.
	var merge *mergeOutcome
	setStatus(model.RunStatusMerging)
	err = trackPhase("merge", func() (*model.PhaseResult, error) {
		var mergeErr error
		merge, mergeErr = mergeCandidates(ctx, p.store, p.cfg.Detection, tenantID, candidates, decay.Active, now)
		if merge != nil {
			result.TrendsCreated = merge.Created
			result.TrendsUpdated = merge.Updated
		}
		if mergeErr != nil {
			return nil, mergeErr
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"created": merge.Created,
			"updated": merge.Updated,
		}}, nil
	})
	if err != nil {
		return finish(err)
	}

	if p.cfg.Explain.Enabled && len(merge.NeedsExplanation) > 0 {
		setStatus(model.RunStatusExplaining)
		_ = trackPhase("explain", func() (*model.PhaseResult, error) {
			itemsByID := make(map[string]model.ContentItem, len(items))
			for _, it := range items {
				itemsByID[it.ID] = it
			}
			warnings := explainTrends(ctx, p.store, p.explainer, p.cfg.Explain, merge.NeedsExplanation, itemsByID)
			result.Warnings = append(result.Warnings, warnings...)
			return &model.PhaseResult{Metadata: map[string]any{
				"requested": len(merge.NeedsExplanation),
				"warnings":  len(warnings),
			}}, nil
		})
	}

	return finish(nil)
}

// FailedStage returns the name of the phase a failed run died in, or "" for
// a run with no failed phase.
func FailedStage(result *model.RunResult) string {
	if result == nil {
		return ""
	}
	for _, phase := range result.Phases {
		if phase.Status == model.PhaseStatusFailed {
			return phase.Name
		}
	}
	return ""
}

