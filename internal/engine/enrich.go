package engine

import (
	"context"
	"sort"
	"time"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/logger"
)

// Enricher performs the expensive follow-up fetch for one qualified item:
// full article text, a reply thread. It mutates the item in place and may
// return late-arriving child items (replies) to append to the batch.
type Enricher interface {
	Enrich(ctx context.Context, item *domain.ContentItem) ([]*domain.ContentItem, error)
}

// EnrichmentConfig bounds the secondary pass.
type EnrichmentConfig struct {
	// Qualify decides whether an item is worth the expensive fetch
	// (score threshold, reply-count threshold). Required.
	Qualify func(item *domain.ContentItem) bool
	// Budget is the hard cap on fetches per run, independent of how many
	// items qualify.
	Budget int
	// FetchTimeout bounds each individual fetch.
	FetchTimeout time.Duration
	// FlushEvery is the cadence (in successful fetches) at which the
	// updated done-set is flushed through the checkpoint manager.
	FlushEvery int
}

// EnrichmentScheduler runs a bounded, ranked secondary pass over collected
// items. Re-running with the same done-set performs zero redundant fetches.
type EnrichmentScheduler struct {
	enricher    Enricher
	config      EnrichmentConfig
	checkpoints *CheckpointManager
	logger      logger.Interface
}

// NewEnrichmentScheduler creates an enrichment scheduler.
func NewEnrichmentScheduler(
	enricher Enricher,
	config EnrichmentConfig,
	checkpoints *CheckpointManager,
	log logger.Interface,
) *EnrichmentScheduler {
	if log == nil {
		log = logger.NewNoOp()
	}
	return &EnrichmentScheduler{
		enricher:    enricher,
		config:      config,
		checkpoints: checkpoints,
		logger:      log,
	}
}

// Run enriches the top-ranked qualified items not yet in the checkpoint's
// done-set. Each successful fetch adds its item to the set; the set is
// flushed through the checkpoint manager at the configured cadence. A single
// candidate's failure is logged and never aborts the batch.
// Returns late-arriving items to append and the number of fetches performed.
func (s *EnrichmentScheduler) Run(
	ctx context.Context,
	items []*domain.ContentItem,
	checkpoint *domain.Checkpoint,
) (extra []*domain.ContentItem, fetched int) {
	if s.enricher == nil || s.config.Qualify == nil || s.config.Budget <= 0 {
		return nil, 0
	}

	done := checkpoint.EnrichedSet()
	candidates := s.selectCandidates(items, done)

	sinceFlush := 0
	for _, candidate := range candidates {
		children, err := s.enrichOne(ctx, candidate)
		if err != nil {
			s.logger.Warn("enrichment fetch failed, skipping candidate",
				"external_id", candidate.ExternalID,
				"error", err.Error(),
			)
			continue
		}

		fetched++
		sinceFlush++
		extra = append(extra, children...)
		done[candidate.ExternalID] = struct{}{}
		checkpoint.SetEnrichedSet(done)

		if s.config.FlushEvery > 0 && sinceFlush >= s.config.FlushEvery {
			if flushErr := s.checkpoints.Flush(ctx, checkpoint); flushErr != nil {
				s.logger.Error("mid-run checkpoint flush failed",
					"source_id", checkpoint.SourceID,
					"error", flushErr.Error(),
				)
			}
			sinceFlush = 0
		}
	}

	return extra, fetched
}

// selectCandidates filters qualified, not-yet-done items, ranks them by
// score descending and applies the hard budget.
func (s *EnrichmentScheduler) selectCandidates(
	items []*domain.ContentItem,
	done map[string]struct{},
) []*domain.ContentItem {
	candidates := make([]*domain.ContentItem, 0, len(items))
	for _, item := range items {
		if _, already := done[item.ExternalID]; already {
			continue
		}
		if s.config.Qualify(item) {
			candidates = append(candidates, item)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > s.config.Budget {
		candidates = candidates[:s.config.Budget]
	}
	return candidates
}

// enrichOne runs a single fetch under its own timeout.
func (s *EnrichmentScheduler) enrichOne(
	ctx context.Context,
	item *domain.ContentItem,
) ([]*domain.ContentItem, error) {
	if s.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FetchTimeout)
		defer cancel()
	}
	return s.enricher.Enrich(ctx, item)
}
