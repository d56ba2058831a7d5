package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/logger"
	"github.com/buremba/owletto-crawlers/internal/metrics"
)

// Default run bounds.
const (
	DefaultMaxPages         = 50
	DefaultBaselineInterval = time.Hour
)

// PageFetcher returns one page of raw items for a cursor. A nil cursor means
// "start from the top". Pagination strategy only; no dedup or state.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor *string) (*domain.PageResult, error)
}

// ItemTransformer converts one raw item into a normalized content item.
type ItemTransformer interface {
	Transform(raw domain.RawItem) (*domain.ContentItem, error)
}

// FilterPredicate drops raw items before transformation (deleted posts,
// cross-posts). A nil predicate keeps everything.
type FilterPredicate func(raw domain.RawItem) bool

// RunConfig declares a source's pagination behaviour to the driver.
type RunConfig struct {
	// MaxPages is the hard iteration cap. Exceeding it is a logged
	// truncation, not an error; the checkpoint still advances.
	MaxPages int
	// RateLimitInterval is the minimum delay between page fetches.
	RateLimitInterval time.Duration
	// OrderedDescending must be declared true for the checkpoint-reached
	// short-circuit to apply. Sources that cannot guarantee strict
	// descending timestamp order (label-filtered search) leave it false
	// and terminate on cursor exhaustion or MaxPages alone.
	OrderedDescending bool
	// ContinuationPolicy declares what a drained cursor means next run.
	ContinuationPolicy domain.ContinuationPolicy
	// BaselineInterval seeds the next-recommended-run time.
	BaselineInterval time.Duration
}

// RunInput carries a source's strategy values into one run.
type RunInput struct {
	Fetcher      PageFetcher
	Transformer  ItemTransformer
	Filter       FilterPredicate
	DeriveParent ParentDeriver
	// Enrichment is optional; nil skips the secondary pass.
	Enrichment *EnrichmentScheduler
	Checkpoint  *domain.Checkpoint
}

// Driver orchestrates one incremental collection run: the sequential
// pagination loop, termination rules, dedup, parent linking, checkpoint
// advancement and the optional enrichment pass.
type Driver struct {
	config      RunConfig
	checkpoints *CheckpointManager
	metrics     *metrics.RunMetrics
	logger      logger.Interface
}

// NewDriver creates a pagination driver for one source's declared behaviour.
func NewDriver(
	config RunConfig,
	checkpoints *CheckpointManager,
	runMetrics *metrics.RunMetrics,
	log logger.Interface,
) *Driver {
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultMaxPages
	}
	if config.BaselineInterval <= 0 {
		config.BaselineInterval = DefaultBaselineInterval
	}
	if runMetrics == nil {
		runMetrics = metrics.NewRunMetrics()
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Driver{
		config:      config,
		checkpoints: checkpoints,
		metrics:     runMetrics,
		logger:      log,
	}
}

// pageOutcome accumulates the state of the pagination loop.
type pageOutcome struct {
	collected  []*domain.ContentItem
	skipped    int
	nextCursor *string
	pages      int
	terminated bool
}

// Run executes one collection run against the supplied strategy values.
// Pages are fetched strictly sequentially. Transport failures propagate to
// the caller unretried; per-item parse failures are logged and skipped.
func (d *Driver) Run(ctx context.Context, input RunInput) (*domain.CollectionResult, error) {
	if input.Fetcher == nil || input.Transformer == nil {
		return nil, fmt.Errorf("%w: fetcher and transformer are required", ErrInvalidConfig)
	}
	if input.Checkpoint == nil {
		return nil, fmt.Errorf("%w: checkpoint must be non-nil (use domain.NewCheckpoint)", ErrInvalidConfig)
	}

	outcome, err := d.paginate(ctx, input)
	if err != nil {
		return nil, err
	}

	unique, dupes := Dedupe(outcome.collected)
	outcome.skipped += dupes

	parentMap := LinkParents(unique, input.DeriveParent)

	latest := newestItem(unique)
	checkpoint := d.checkpoints.Advance(
		input.Checkpoint, latest, outcome.nextCursor, len(unique),
	)

	enriched := 0
	if input.Enrichment != nil {
		extra, fetched := input.Enrichment.Run(ctx, unique, checkpoint)
		if len(extra) > 0 {
			// A reply enricher can return an item the main pass already
			// collected, so the merged batch is deduped again.
			var extraDupes int
			unique, extraDupes = Dedupe(append(unique, extra...))
			outcome.skipped += extraDupes
		}
		enriched = fetched
		d.metrics.RecordEnrichmentFetches(fetched)
	}

	// Enrichment may append late-arriving reply items, so ordering is
	// restored at the very end.
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].PublishedAt.After(unique[j].PublishedAt)
	})

	d.metrics.RecordRun(len(unique), outcome.skipped, outcome.pages)

	return &domain.CollectionResult{
		Contents:   unique,
		Checkpoint: checkpoint,
		ParentMap:  parentMap,
		Stats: domain.RunStats{
			ItemsFound:           len(unique),
			ItemsSkipped:         outcome.skipped,
			PagesFetched:         outcome.pages,
			EnrichedCount:        enriched,
			NextRecommendedRunAt: time.Now().Add(d.config.BaselineInterval),
		},
	}, nil
}

// paginate walks the source page by page until a termination rule fires:
// checkpoint reached, cursor exhausted, empty page, or MaxPages.
func (d *Driver) paginate(ctx context.Context, input RunInput) (*pageOutcome, error) {
	limiter := NewRateLimiter(d.config.RateLimitInterval)
	outcome := &pageOutcome{nextCursor: input.Checkpoint.PaginationToken}

	cursor := input.Checkpoint.PaginationToken
	for outcome.pages < d.config.MaxPages {
		if waitErr := limiter.Wait(ctx); waitErr != nil {
			return nil, fmt.Errorf("rate limit wait: %w", waitErr)
		}

		page, fetchErr := input.Fetcher.FetchPage(ctx, cursor)
		if fetchErr != nil {
			d.metrics.RecordFetchError()
			return nil, fmt.Errorf("fetch page %d: %w", outcome.pages+1, fetchErr)
		}
		outcome.pages++

		d.consumePage(input, page, outcome)

		if outcome.terminated {
			// Everything below the checkpoint was collected on an
			// earlier run; a stored cursor here would pin the next run
			// mid-backlog and hide new items at the top of the feed.
			outcome.nextCursor = nil
			return outcome, nil
		}

		outcome.nextCursor = page.NextCursor
		if page.NextCursor == nil || page.RawCount == 0 {
			if d.config.ContinuationPolicy == domain.ContinuationRestart {
				outcome.nextCursor = nil
			}
			return outcome, nil
		}
		cursor = page.NextCursor
	}

	// Hitting the page cap is normal truncation: the checkpoint still
	// advances, guaranteeing forward progress across large backlogs.
	d.logger.Info("run truncated at page cap",
		"source_id", input.Checkpoint.SourceID,
		"max_pages", d.config.MaxPages,
		"items_collected", len(outcome.collected),
	)
	return outcome, nil
}

// consumePage filters, transforms and collects one page of raw items. When
// the source is declared timestamp-ordered descending and an item at or
// before the checkpoint's last timestamp appears, consumption stops and the
// termination flag is set.
func (d *Driver) consumePage(input RunInput, page *domain.PageResult, outcome *pageOutcome) {
	lastSeen := input.Checkpoint.LastTimestamp

	for i := range page.Items {
		if input.Filter != nil && !input.Filter(page.Items[i]) {
			outcome.skipped++
			continue
		}

		item, err := input.Transformer.Transform(page.Items[i])
		if err != nil {
			outcome.skipped++
			d.logger.Warn("skipping unparseable item",
				"source_id", input.Checkpoint.SourceID,
				"error", err.Error(),
				"parse_error", errors.Is(err, ErrParse),
			)
			continue
		}

		if d.config.OrderedDescending && !lastSeen.IsZero() && !item.PublishedAt.After(lastSeen) {
			outcome.terminated = true
			return
		}

		outcome.collected = append(outcome.collected, item)
	}
}

// newestItem returns the item with the greatest published timestamp.
func newestItem(items []*domain.ContentItem) *domain.ContentItem {
	var newest *domain.ContentItem
	for _, item := range items {
		if newest == nil || item.PublishedAt.After(newest.PublishedAt) {
			newest = item
		}
	}
	return newest
}
