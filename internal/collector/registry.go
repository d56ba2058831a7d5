package collector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/buremba/owletto-crawlers/internal/source"
)

// Registry holds the configured sources and the report of each source's most
// recent run. Reads and writes are safe for concurrent scheduler and API use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]source.Source
	reports map[string]*Report
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]source.Source),
		reports: make(map[string]*Report),
	}
}

// Add registers a source under its descriptor ID.
func (r *Registry) Add(src source.Source) error {
	id := src.Descriptor().ID
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[id]; exists {
		return fmt.Errorf("duplicate source id %q", id)
	}
	r.sources[id] = src
	return nil
}

// Get returns the source registered under id.
func (r *Registry) Get(id string) (source.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	return src, ok
}

// IDs returns the registered source IDs in stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Descriptors returns the descriptors of all registered sources, ordered by
// source ID.
func (r *Registry) Descriptors() []source.Descriptor {
	ids := r.IDs()

	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]source.Descriptor, 0, len(ids))
	for _, id := range ids {
		descriptors = append(descriptors, r.sources[id].Descriptor())
	}
	return descriptors
}

// RecordReport stores the report of a source's latest run.
func (r *Registry) RecordReport(report *Report) {
	if report == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.SourceID] = report
}

// LastReport returns the most recent run report for a source, if any run has
// completed since startup.
func (r *Registry) LastReport(sourceID string) (*Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.reports[sourceID]
	return report, ok
}
