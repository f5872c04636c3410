package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// TrendStatus is the lifecycle classification of a trend. It is always
// derived from strength via StatusForStrength, never set by hand.
type TrendStatus string

const (
	TrendEmerging  TrendStatus = "emerging"
	TrendTrending  TrendStatus = "trending"
	TrendDeclining TrendStatus = "declining"
	TrendArchived  TrendStatus = "archived"
)

// Strength thresholds for the lifecycle buckets.
const (
	EmergingThreshold = 0.7
	TrendingThreshold = 0.3
	ArchiveThreshold  = 0.1
)

// MaxKeyItems bounds the number of exemplar content items kept per trend.
const MaxKeyItems = 5

// StatusForStrength maps a strength value to its lifecycle bucket.
func StatusForStrength(strength float64) TrendStatus {
	switch {
	case strength >= EmergingThreshold:
		return TrendEmerging
	case strength >= TrendingThreshold:
		return TrendTrending
	case strength >= ArchiveThreshold:
		return TrendDeclining
	default:
		return TrendArchived
	}
}

// Rank orders statuses from coldest to hottest, used to detect promotion
// into a higher bucket.
func (s TrendStatus) Rank() int {
	switch s {
	case TrendEmerging:
		return 3
	case TrendTrending:
		return 2
	case TrendDeclining:
		return 1
	default:
		return 0
	}
}

// Trend is a persisted, decaying record of a topic's attention level for a
// tenant. Strength is the only attribute that decays; everything else is
// refreshed when a matching candidate merges in.
type Trend struct {
	ID           string      `json:"id"`
	TenantID     string      `json:"tenant_id"`
	TopicLabel   string      `json:"topic_label"`
	Keywords     []string    `json:"keywords"`
	Strength     float64     `json:"strength"`
	MentionCount int         `json:"mention_count"`
	Velocity     float64     `json:"velocity"`
	Sources      []string    `json:"sources"`
	SourceCount  int         `json:"source_count"`
	KeyItemIDs   []string    `json:"key_item_ids"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastUpdated  time.Time   `json:"last_updated"`
	Status       TrendStatus `json:"status"`
	Explanation  string      `json:"explanation,omitempty"`
	IsActive     bool        `json:"is_active"`
}

func errMissing(field string) error {
	return eris.Errorf("model: missing required field %s", field)
}
