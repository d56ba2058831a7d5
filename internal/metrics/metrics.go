// Package metrics provides metrics collection and reporting functionality.
package metrics

import (
	"sync"
	"time"
)

// RunMetrics holds counters for collection runs.
type RunMetrics struct {
	// RunCount is the number of runs recorded.
	RunCount int64
	// ItemsFound is the total number of items emitted across runs.
	ItemsFound int64
	// ItemsSkipped is the total number of filtered, unparseable or
	// duplicate items dropped across runs.
	ItemsSkipped int64
	// PagesFetched is the total number of page fetches performed.
	PagesFetched int64
	// FetchErrors is the number of failed page fetches.
	FetchErrors int64
	// RateLimitedRequests is the number of rate-limited responses seen.
	RateLimitedRequests int64
	// EnrichmentFetches is the number of expensive enrichment fetches.
	EnrichmentFetches int64
	// LastRunAt is the time of the most recent recorded run.
	LastRunAt time.Time
	// StartTime is when metrics collection began.
	StartTime time.Time
	// mu protects concurrent access.
	mu sync.Mutex
}

// NewRunMetrics creates a new RunMetrics instance.
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{StartTime: time.Now()}
}

// RecordRun records the outcome of one completed run.
func (m *RunMetrics) RecordRun(found, skipped, pages int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RunCount++
	m.ItemsFound += int64(found)
	m.ItemsSkipped += int64(skipped)
	m.PagesFetched += int64(pages)
	m.LastRunAt = time.Now()
}

// RecordFetchError records a failed page fetch.
func (m *RunMetrics) RecordFetchError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchErrors++
}

// RecordRateLimited records a rate-limited upstream response.
func (m *RunMetrics) RecordRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RateLimitedRequests++
}

// RecordEnrichmentFetches adds completed enrichment fetches.
func (m *RunMetrics) RecordEnrichmentFetches(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnrichmentFetches += int64(n)
}

// Snapshot returns a copy of the current counters.
func (m *RunMetrics) Snapshot() RunMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return RunMetrics{
		RunCount:            m.RunCount,
		ItemsFound:          m.ItemsFound,
		ItemsSkipped:        m.ItemsSkipped,
		PagesFetched:        m.PagesFetched,
		FetchErrors:         m.FetchErrors,
		RateLimitedRequests: m.RateLimitedRequests,
		EnrichmentFetches:   m.EnrichmentFetches,
		LastRunAt:           m.LastRunAt,
		StartTime:           m.StartTime,
	}
}
