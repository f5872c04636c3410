package model

import (
	"time"
)

// RunStatus represents the current state of a detection run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusFetching   RunStatus = "fetching"
	RunStatusExtracting RunStatus = "extracting"
	RunStatusScoring    RunStatus = "scoring"
	RunStatusMerging    RunStatus = "merging"
	RunStatusExplaining RunStatus = "explaining"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
	RunStatusSkipped    RunStatus = "skipped"
)

// DetectionRun represents a single detection invocation for a tenant.
type DetectionRun struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a detection run.
type RunResult struct {
	TenantID           string        `json:"tenant_id"`
	CandidatesDetected int           `json:"candidates_detected"`
	TrendsCreated      int           `json:"trends_created"`
	TrendsUpdated      int           `json:"trends_updated"`
	TrendsArchived     int           `json:"trends_archived"`
	TrendsDecayed      int           `json:"trends_decayed"`
	ItemsAnalyzed      int           `json:"items_analyzed"`
	Skipped            bool          `json:"skipped,omitempty"`
	Warnings           []string      `json:"warnings,omitempty"`
	Phases             []PhaseResult `json:"phases,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// RunPhase represents a phase within a detection run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DLQEntry is a failed tenant run parked for retry. Entries are drained by
// the retry command once next_retry_at has passed.
type DLQEntry struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Stage        string    `json:"stage"`
	Error        string    `json:"error"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}
