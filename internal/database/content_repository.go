package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/buremba/owletto-crawlers/internal/domain"
)

// ContentRepository persists collected content items. Items are keyed by
// (source_id, external_id) so re-collecting an item updates it in place.
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository creates a new content repository.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// upsertContentQuery writes one item; re-collection refreshes the mutable
// fields (score, content, metadata) without touching identity.
const upsertContentQuery = `
	INSERT INTO contents (source_id, external_id, title, content, author, url,
		published_at, score, parent_external_id, metadata, collected_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (source_id, external_id) DO UPDATE
	SET title = EXCLUDED.title,
		content = EXCLUDED.content,
		score = EXCLUDED.score,
		parent_external_id = EXCLUDED.parent_external_id,
		metadata = EXCLUDED.metadata,
		collected_at = NOW()
`

// SaveBatch upserts one run's items in a single transaction. Parent links
// are stored as external IDs; a parent collected in a prior run resolves
// without being present in this batch.
func (r *ContentRepository) SaveBatch(
	ctx context.Context,
	sourceID string,
	items []*domain.ContentItem,
	parents domain.ParentMap,
) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin content batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, item := range items {
		parentID := item.ParentExternalID
		if mapped, ok := parents[item.ExternalID]; ok {
			parentID = mapped
		}

		_, execErr := tx.ExecContext(ctx, upsertContentQuery,
			sourceID, item.ExternalID, item.Title, item.Content, item.Author,
			item.URL, item.PublishedAt, item.Score, nullable(parentID), item.Metadata,
		)
		if execErr != nil {
			return fmt.Errorf("failed to upsert content %s: %w", item.ExternalID, execErr)
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("failed to commit content batch: %w", commitErr)
	}
	return nil
}

// Deliver stores one run's collected items, satisfying the run executor's
// sink contract.
func (r *ContentRepository) Deliver(ctx context.Context, result *domain.CollectionResult) error {
	return r.SaveBatch(ctx, result.Checkpoint.SourceID, result.Contents, result.ParentMap)
}

// CountBySource returns the number of stored items for a source.
func (r *ContentRepository) CountBySource(ctx context.Context, sourceID string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM contents WHERE source_id = $1`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to count contents: %w", err)
	}
	return count, nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
