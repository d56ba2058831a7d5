package domain

import (
	"sort"
	"time"
)

// SourceKind identifies which collector family a checkpoint belongs to.
type SourceKind string

// Known source kinds.
const (
	SourceKindHackerNews SourceKind = "hackernews"
	SourceKindGitHub     SourceKind = "github"
	SourceKindReddit     SourceKind = "reddit"
	SourceKindReviews    SourceKind = "reviews"
)

// ContinuationPolicy declares what a nil pagination token means for a source
// at the end of a run.
type ContinuationPolicy string

const (
	// ContinuationRestart means a drained cursor restarts pagination from
	// the top on the next run; the timestamp guard prevents re-emission.
	ContinuationRestart ContinuationPolicy = "restart"
	// ContinuationResume means the stored cursor is handed back to the
	// fetcher verbatim on the next run.
	ContinuationResume ContinuationPolicy = "resume"
)

// Checkpoint is the durable resume state for one source. The header fields
// are shared by every source; Extra carries only the fields the owning
// source kind needs.
type Checkpoint struct {
	SourceID            string           `db:"source_id"             json:"source_id"`
	Kind                SourceKind       `db:"kind"                  json:"kind"`
	LastTimestamp       time.Time        `db:"last_timestamp"        json:"last_timestamp"`
	PaginationToken     *string          `db:"pagination_token"      json:"pagination_token,omitempty"`
	TotalItemsProcessed int64            `db:"total_items_processed" json:"total_items_processed"`
	Extra               *CheckpointExtra `db:"extra"                 json:"extra,omitempty"`
	UpdatedAt           time.Time        `db:"updated_at"            json:"updated_at"`
}

// CheckpointExtra holds per-kind checkpoint extensions. Only the fields for
// the checkpoint's Kind are populated; the rest stay at their zero values.
type CheckpointExtra struct {
	// EnrichedIDs is the set of external IDs whose expensive follow-up
	// fetch already completed, shared by every kind that enriches.
	EnrichedIDs []string `json:"enriched_ids,omitempty"`
	// ProcessedThreadIDs tracks reply threads already walked (reddit).
	ProcessedThreadIDs []string `json:"processed_thread_ids,omitempty"`
	// LastCommentID is the newest comment seen (github).
	LastCommentID string `json:"last_comment_id,omitempty"`
}

// NewCheckpoint returns an empty checkpoint for a source. A nil checkpoint
// passed into a run means "first run"; this constructor gives the engine a
// concrete value to advance from.
func NewCheckpoint(sourceID string, kind SourceKind) *Checkpoint {
	return &Checkpoint{
		SourceID: sourceID,
		Kind:     kind,
	}
}

// Clone returns a deep copy so mid-run flushes never alias live engine state.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	clone := *c
	if c.PaginationToken != nil {
		token := *c.PaginationToken
		clone.PaginationToken = &token
	}
	if c.Extra != nil {
		extra := CheckpointExtra{
			EnrichedIDs:        append([]string(nil), c.Extra.EnrichedIDs...),
			ProcessedThreadIDs: append([]string(nil), c.Extra.ProcessedThreadIDs...),
			LastCommentID:      c.Extra.LastCommentID,
		}
		clone.Extra = &extra
	}
	return &clone
}

// EnrichedSet returns the enriched-ID set as a map for membership checks.
func (c *Checkpoint) EnrichedSet() map[string]struct{} {
	set := make(map[string]struct{})
	if c == nil || c.Extra == nil {
		return set
	}
	for _, id := range c.Extra.EnrichedIDs {
		set[id] = struct{}{}
	}
	return set
}

// SetEnrichedSet replaces the enriched-ID set from a membership map. IDs are
// stored sorted so repeated flushes of the same set persist identical rows.
func (c *Checkpoint) SetEnrichedSet(set map[string]struct{}) {
	if c.Extra == nil {
		c.Extra = &CheckpointExtra{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.Extra.EnrichedIDs = ids
}
