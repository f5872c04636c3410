package model

// CandidateTopic is an ephemeral per-run clustering output. Candidates exist
// only between extraction and the merge phase; they are never persisted.
type CandidateTopic struct {
	Label         string   `json:"label"`
	Keywords      []string `json:"keywords"`
	MemberItemIDs []string `json:"member_item_ids"`
	MentionCount  int      `json:"mention_count"`
	Velocity      float64  `json:"velocity"`
	Sources       []string `json:"sources"`
	SourceCount   int      `json:"source_count"`
	RawScore      float64  `json:"raw_score"`
}
