package engine

import "github.com/buremba/owletto-crawlers/internal/domain"

// Dedupe collapses items sharing an external ID within one run. The first
// occurrence wins and first-seen order is preserved so downstream
// sort-by-date stays deterministic for equal timestamps.
func Dedupe(items []*domain.ContentItem) (unique []*domain.ContentItem, skipped int) {
	seen := make(map[string]struct{}, len(items))
	unique = make([]*domain.ContentItem, 0, len(items))

	for _, item := range items {
		if _, dup := seen[item.ExternalID]; dup {
			skipped++
			continue
		}
		seen[item.ExternalID] = struct{}{}
		unique = append(unique, item)
	}

	return unique, skipped
}
