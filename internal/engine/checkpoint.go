package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/logger"
)

// CheckpointStore persists checkpoints. The engine only ever writes through
// Flush during long enrichment passes; the final checkpoint is handed back in
// the CollectionResult and persisted by the run caller.
type CheckpointStore interface {
	Save(ctx context.Context, checkpoint *domain.Checkpoint) error
}

// CheckpointManager derives the next resume state from the latest processed
// item and exposes a mid-run flush hook for expensive multi-stage runs.
type CheckpointManager struct {
	store  CheckpointStore
	logger logger.Interface
}

// NewCheckpointManager creates a checkpoint manager. The store may be nil
// for sources that never flush mid-run.
func NewCheckpointManager(store CheckpointStore, log logger.Interface) *CheckpointManager {
	if log == nil {
		log = logger.NewNoOp()
	}
	return &CheckpointManager{store: store, logger: log}
}

// Advance computes the next checkpoint from the run's outcome. The input
// checkpoint is not mutated.
//   - LastTimestamp moves to the newest collected item, else carries over.
//   - PaginationToken records the cursor the next run continues from; nil
//     restarts pagination from the top of the feed.
//   - TotalItemsProcessed accumulates monotonically.
func (m *CheckpointManager) Advance(
	existing *domain.Checkpoint,
	latest *domain.ContentItem,
	nextCursor *string,
	itemsProcessed int,
) *domain.Checkpoint {
	next := existing.Clone()

	if latest != nil && latest.PublishedAt.After(next.LastTimestamp) {
		next.LastTimestamp = latest.PublishedAt
	}
	next.PaginationToken = nextCursor
	next.TotalItemsProcessed += int64(itemsProcessed)
	next.UpdatedAt = time.Now().UTC()

	return next
}

// Flush persists a partial checkpoint mid-run so a crash or timeout does not
// force re-doing already-completed expensive work. This is the engine's only
// out-of-band persistence path.
func (m *CheckpointManager) Flush(ctx context.Context, partial *domain.Checkpoint) error {
	if m.store == nil {
		return nil
	}

	if err := m.store.Save(ctx, partial.Clone()); err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}

	m.logger.Debug("flushed mid-run checkpoint",
		"source_id", partial.SourceID,
		"total_items_processed", partial.TotalItemsProcessed,
	)
	return nil
}
