// Package domain provides domain models used across the application.
package domain

import "time"

// ContentItem is one normalized unit of collected content.
// ExternalID is stable across runs for the same logical item; dedup and
// checkpoint correctness depend on it.
type ContentItem struct {
	ExternalID       string    `json:"external_id"`
	Title            string    `json:"title,omitempty"`
	Content          string    `json:"content"`
	Author           string    `json:"author,omitempty"`
	URL              string    `json:"url,omitempty"`
	PublishedAt      time.Time `json:"published_at"`
	Score            float64   `json:"score"`
	ParentExternalID string    `json:"parent_external_id,omitempty"`
	Metadata         JSONBMap  `json:"metadata,omitempty"`
}

// ParentMap maps a child item's external ID to its parent's external ID.
// Parent IDs may reference entities collected in a prior run; the sink
// resolves them against its own identity space.
type ParentMap map[string]string

// RunStats summarizes one collection run.
type RunStats struct {
	ItemsFound           int       `json:"items_found"`
	ItemsSkipped         int       `json:"items_skipped"`
	PagesFetched         int       `json:"pages_fetched"`
	EnrichedCount        int       `json:"enriched_count"`
	NextRecommendedRunAt time.Time `json:"next_recommended_run_at"`
}

// CollectionResult is the output of one run: a bounded batch of normalized
// items, the advanced checkpoint, and the parent links for the sink to resolve.
type CollectionResult struct {
	Contents   []*ContentItem `json:"contents"`
	Checkpoint *Checkpoint    `json:"checkpoint"`
	ParentMap  ParentMap      `json:"parent_map,omitempty"`
	Stats      RunStats       `json:"stats"`
}
