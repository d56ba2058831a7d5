package engine

import "github.com/buremba/owletto-crawlers/internal/domain"

// ParentDeriver yields the parent external ID for an item, or "" when the
// item has no parent. Sources supply their own derivation (a comment's post,
// an issue parsed out of a comment URL).
type ParentDeriver func(item *domain.ContentItem) string

// LinkParents builds the child-to-parent map for hierarchical content.
// Parent IDs may reference entities absent from items (collected in a prior
// run); the mapping is still recorded and exported for the sink to resolve.
func LinkParents(items []*domain.ContentItem, derive ParentDeriver) domain.ParentMap {
	parents := make(domain.ParentMap)
	if derive == nil {
		return parents
	}

	for _, item := range items {
		if parentID := derive(item); parentID != "" {
			parents[item.ExternalID] = parentID
		}
	}

	return parents
}
