package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/engine"
	"github.com/buremba/owletto-crawlers/internal/logger"
)

// fakeItem is the raw shape the fake source emits.
type fakeItem struct {
	ID          string  `json:"id"`
	PublishedAt int64   `json:"published_at"`
	Score       float64 `json:"score"`
	Deleted     bool    `json:"deleted"`
}

func rawItem(t *testing.T, item fakeItem) domain.RawItem {
	t.Helper()
	data, err := json.Marshal(item)
	require.NoError(t, err)
	return domain.RawItem{JSON: data}
}

// fakePage builds a page of n items with descending timestamps starting at base.
func fakePage(t *testing.T, prefix string, n int, base time.Time, next *string) *domain.PageResult {
	t.Helper()
	page := &domain.PageResult{NextCursor: next, RawCount: n}
	for i := 0; i < n; i++ {
		page.Items = append(page.Items, rawItem(t, fakeItem{
			ID:          fmt.Sprintf("%s-%d", prefix, i),
			PublishedAt: base.Add(-time.Duration(i) * time.Minute).Unix(),
			Score:       float64(n - i),
		}))
	}
	return page
}

// scriptedFetcher returns pre-built pages keyed by cursor.
type scriptedFetcher struct {
	pages map[string]*domain.PageResult
	calls int
	err   error
}

func (f *scriptedFetcher) FetchPage(_ context.Context, cursor *string) (*domain.PageResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	key := ""
	if cursor != nil {
		key = *cursor
	}
	page, ok := f.pages[key]
	if !ok {
		return &domain.PageResult{}, nil
	}
	return page, nil
}

// fakeTransformer decodes fakeItem JSON into a ContentItem.
type fakeTransformer struct{}

func (fakeTransformer) Transform(raw domain.RawItem) (*domain.ContentItem, error) {
	var item fakeItem
	if err := json.Unmarshal(raw.JSON, &item); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrParse, err)
	}
	return &domain.ContentItem{
		ExternalID:  item.ID,
		Content:     "body of " + item.ID,
		PublishedAt: time.Unix(item.PublishedAt, 0).UTC(),
		Score:       item.Score,
	}, nil
}

func newDriver(cfg engine.RunConfig) *engine.Driver {
	manager := engine.NewCheckpointManager(nil, logger.NewNoOp())
	return engine.NewDriver(cfg, manager, nil, logger.NewNoOp())
}

func cursor(s string) *string { return &s }

func TestDriverRun_ConsumesAllPages(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC().Truncate(time.Second)
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{
		"":   fakePage(t, "p1", 100, base, cursor("p2")),
		"p2": fakePage(t, "p2", 100, base.Add(-3*time.Hour), cursor("p3")),
		"p3": fakePage(t, "p3", 40, base.Add(-6*time.Hour), nil),
	}}

	driver := newDriver(engine.RunConfig{MaxPages: 50})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, fetcher.calls, "exactly 3 fetcher calls")
	assert.Len(t, result.Contents, 240, "all 240 raw items consumed")
	assert.Equal(t, 3, result.Stats.PagesFetched)
	assert.Nil(t, result.Checkpoint.PaginationToken)
}

func TestDriverRun_StopsAtCheckpointForDescendingSource(t *testing.T) {
	t.Parallel()

	checkpointTime := time.Now().UTC().Truncate(time.Second)
	timestamps := []time.Duration{
		5 * time.Minute, 3 * time.Minute, -1 * time.Minute, -2 * time.Minute,
	}

	page := &domain.PageResult{NextCursor: cursor("p2"), RawCount: len(timestamps)}
	for i, offset := range timestamps {
		page.Items = append(page.Items, rawItem(t, fakeItem{
			ID:          fmt.Sprintf("item-%d", i),
			PublishedAt: checkpointTime.Add(offset).Unix(),
		}))
	}
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{"": page}}

	checkpoint := domain.NewCheckpoint("fake", domain.SourceKindHackerNews)
	checkpoint.LastTimestamp = checkpointTime

	driver := newDriver(engine.RunConfig{OrderedDescending: true})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  checkpoint,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls, "no further fetch after checkpoint reached")
	require.Len(t, result.Contents, 2, "only items newer than the checkpoint")
	assert.Equal(t, "item-0", result.Contents[0].ExternalID)
	assert.Equal(t, "item-1", result.Contents[1].ExternalID)
}

func TestDriverRun_EqualTimestampStopsConsumption(t *testing.T) {
	t.Parallel()

	checkpointTime := time.Now().UTC().Truncate(time.Second)
	page := &domain.PageResult{NextCursor: cursor("p2"), RawCount: 2}
	page.Items = append(page.Items,
		rawItem(t, fakeItem{ID: "new", PublishedAt: checkpointTime.Add(time.Minute).Unix()}),
		rawItem(t, fakeItem{ID: "same", PublishedAt: checkpointTime.Unix()}),
	)
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{"": page}}

	checkpoint := domain.NewCheckpoint("fake", domain.SourceKindHackerNews)
	checkpoint.LastTimestamp = checkpointTime

	driver := newDriver(engine.RunConfig{OrderedDescending: true})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  checkpoint,
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "new", result.Contents[0].ExternalID)
}

func TestDriverRun_UnorderedSourceIgnoresCheckpointShortCircuit(t *testing.T) {
	t.Parallel()

	checkpointTime := time.Now().UTC().Truncate(time.Second)
	page := &domain.PageResult{RawCount: 2}
	page.Items = append(page.Items,
		rawItem(t, fakeItem{ID: "old", PublishedAt: checkpointTime.Add(-time.Hour).Unix()}),
		rawItem(t, fakeItem{ID: "new", PublishedAt: checkpointTime.Add(time.Hour).Unix()}),
	)
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{"": page}}

	checkpoint := domain.NewCheckpoint("fake", domain.SourceKindGitHub)
	checkpoint.LastTimestamp = checkpointTime

	// OrderedDescending is false: termination relies on cursor exhaustion.
	driver := newDriver(engine.RunConfig{})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  checkpoint,
	})
	require.NoError(t, err)
	assert.Len(t, result.Contents, 2, "unordered sources emit every surviving item")
}

func TestDriverRun_CheckpointShortCircuitClearsCursor(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC().Truncate(time.Second)
	page := &domain.PageResult{NextCursor: cursor("p2"), RawCount: 2}
	page.Items = append(page.Items,
		rawItem(t, fakeItem{ID: "fresh", PublishedAt: base.Add(time.Minute).Unix()}),
		rawItem(t, fakeItem{ID: "seen", PublishedAt: base.Add(-time.Minute).Unix()}),
	)
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{"": page}}

	checkpoint := domain.NewCheckpoint("fake", domain.SourceKindHackerNews)
	checkpoint.LastTimestamp = base

	driver := newDriver(engine.RunConfig{
		OrderedDescending:  true,
		ContinuationPolicy: domain.ContinuationRestart,
	})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  checkpoint,
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Nil(t, result.Checkpoint.PaginationToken,
		"reaching the checkpoint must not pin the next run mid-backlog")
}

func TestDriverRun_ShortCircuitedRunStillSeesNewTopItems(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC().Truncate(time.Second)
	firstPage := &domain.PageResult{NextCursor: cursor("p2"), RawCount: 2}
	firstPage.Items = append(firstPage.Items,
		rawItem(t, fakeItem{ID: "new-1", PublishedAt: base.Add(time.Minute).Unix()}),
		rawItem(t, fakeItem{ID: "old", PublishedAt: base.Add(-time.Minute).Unix()}),
	)
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{"": firstPage}}

	checkpoint := domain.NewCheckpoint("fake", domain.SourceKindHackerNews)
	checkpoint.LastTimestamp = base

	driver := newDriver(engine.RunConfig{
		OrderedDescending:  true,
		ContinuationPolicy: domain.ContinuationRestart,
	})
	first, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  checkpoint,
	})
	require.NoError(t, err)
	require.Len(t, first.Contents, 1)

	// A fresh item lands at the top of the feed between runs.
	secondPage := &domain.PageResult{NextCursor: cursor("p2"), RawCount: 3}
	secondPage.Items = append([]domain.RawItem{
		rawItem(t, fakeItem{ID: "new-2", PublishedAt: base.Add(2 * time.Minute).Unix()}),
	}, firstPage.Items...)
	fetcher.pages[""] = secondPage

	second, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  first.Checkpoint,
	})
	require.NoError(t, err)
	require.Len(t, second.Contents, 1, "the new top-of-feed item is collected")
	assert.Equal(t, "new-2", second.Contents[0].ExternalID)
}

func TestDriverRun_RestartPolicyClearsCursorOnEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{
		"": {NextCursor: cursor("p2"), RawCount: 0},
	}}

	driver := newDriver(engine.RunConfig{ContinuationPolicy: domain.ContinuationRestart})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)
	assert.Nil(t, result.Checkpoint.PaginationToken)
}

func TestDriverRun_ResumePolicyKeepsCursorOnEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{
		"": {NextCursor: cursor("p2"), RawCount: 0},
	}}

	driver := newDriver(engine.RunConfig{ContinuationPolicy: domain.ContinuationResume})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Checkpoint.PaginationToken)
	assert.Equal(t, "p2", *result.Checkpoint.PaginationToken)
}

func TestDriverRun_MaxPagesTruncationIsNotAnError(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	// Every page points to itself, simulating an endless backlog.
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{
		"":     fakePage(t, "p", 10, base, cursor("loop")),
		"loop": fakePage(t, "p", 10, base, cursor("loop")),
	}}

	driver := newDriver(engine.RunConfig{MaxPages: 3})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, fetcher.calls)
	assert.NotNil(t, result.Checkpoint.PaginationToken, "checkpoint advances for forward progress")
	assert.False(t, result.Checkpoint.LastTimestamp.IsZero())
}

func TestDriverRun_EmptyPageTerminates(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{
		"": {NextCursor: cursor("p2"), RawCount: 0},
	}}

	driver := newDriver(engine.RunConfig{})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
	assert.Empty(t, result.Contents)
}

func TestDriverRun_FetchErrorPropagatesUnretried(t *testing.T) {
	t.Parallel()

	wantErr := &engine.RateLimitError{RetryAfter: 30 * time.Second}
	fetcher := &scriptedFetcher{err: wantErr}

	driver := newDriver(engine.RunConfig{})
	_, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrRateLimited))
	assert.Equal(t, 1, fetcher.calls, "the engine never loop-retries")

	var rateErr *engine.RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, 30*time.Second, rateErr.RetryAfter)
}

func TestDriverRun_ParseErrorSkipsItemOnly(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	page := fakePage(t, "ok", 2, base, nil)
	page.Items = append(page.Items, domain.RawItem{JSON: []byte("{not json")})
	page.RawCount = 3
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{"": page}}

	driver := newDriver(engine.RunConfig{})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)
	assert.Len(t, result.Contents, 2)
	assert.Equal(t, 1, result.Stats.ItemsSkipped)
}

func TestDriverRun_FilterPredicateDropsItems(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	page := &domain.PageResult{RawCount: 3}
	page.Items = append(page.Items,
		rawItem(t, fakeItem{ID: "keep-1", PublishedAt: base.Unix()}),
		rawItem(t, fakeItem{ID: "drop", PublishedAt: base.Unix(), Deleted: true}),
		rawItem(t, fakeItem{ID: "keep-2", PublishedAt: base.Unix()}),
	)
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{"": page}}

	notDeleted := func(raw domain.RawItem) bool {
		var item fakeItem
		if err := json.Unmarshal(raw.JSON, &item); err != nil {
			return false
		}
		return !item.Deleted
	}

	driver := newDriver(engine.RunConfig{})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Filter:      notDeleted,
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)
	assert.Len(t, result.Contents, 2)
	assert.Equal(t, 1, result.Stats.ItemsSkipped)
}

func TestDriverRun_ResultSortedByPublishedAtDescending(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC().Truncate(time.Second)
	page := &domain.PageResult{RawCount: 3}
	page.Items = append(page.Items,
		rawItem(t, fakeItem{ID: "mid", PublishedAt: base.Add(-time.Hour).Unix()}),
		rawItem(t, fakeItem{ID: "newest", PublishedAt: base.Unix()}),
		rawItem(t, fakeItem{ID: "oldest", PublishedAt: base.Add(-2 * time.Hour).Unix()}),
	)
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{"": page}}

	driver := newDriver(engine.RunConfig{})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 3)
	assert.Equal(t, "newest", result.Contents[0].ExternalID)
	assert.Equal(t, "mid", result.Contents[1].ExternalID)
	assert.Equal(t, "oldest", result.Contents[2].ExternalID)
}

// collidingEnricher returns a reply whose ID matches an item already collected
// by the main pass.
type collidingEnricher struct{}

func (collidingEnricher) Enrich(_ context.Context, item *domain.ContentItem) ([]*domain.ContentItem, error) {
	return []*domain.ContentItem{{
		ExternalID:  "reply-dup",
		Content:     "reply under " + item.ExternalID,
		PublishedAt: item.PublishedAt.Add(time.Second),
	}}, nil
}

func TestDriverRun_EnrichmentRepliesDedupedAgainstMainPass(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC().Truncate(time.Second)
	page := &domain.PageResult{RawCount: 2}
	page.Items = append(page.Items,
		rawItem(t, fakeItem{ID: "story", PublishedAt: base.Unix(), Score: 100}),
		rawItem(t, fakeItem{ID: "reply-dup", PublishedAt: base.Add(-time.Minute).Unix(), Score: 1}),
	)
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{"": page}}

	manager := engine.NewCheckpointManager(nil, logger.NewNoOp())
	enrichment := engine.NewEnrichmentScheduler(collidingEnricher{}, engine.EnrichmentConfig{
		Qualify: func(item *domain.ContentItem) bool { return item.Score >= 50 },
		Budget:  5,
	}, manager, logger.NewNoOp())

	driver := newDriver(engine.RunConfig{})
	result, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Enrichment:  enrichment,
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 2)

	counts := make(map[string]int)
	for _, item := range result.Contents {
		counts[item.ExternalID]++
	}
	assert.Equal(t, 1, counts["reply-dup"], "colliding reply emitted once")
	assert.Equal(t, 1, result.Stats.EnrichedCount)
}

func TestDriverRun_CheckpointMonotonicAcrossRuns(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC().Truncate(time.Second)
	fetcher := &scriptedFetcher{pages: map[string]*domain.PageResult{
		"": fakePage(t, "r1", 5, base, nil),
	}}

	driver := newDriver(engine.RunConfig{OrderedDescending: true})
	first, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.NoError(t, err)
	require.Len(t, first.Contents, 5)
	assert.Equal(t, base, first.Checkpoint.LastTimestamp)

	// Second run sees the same page again; the checkpoint suppresses
	// everything already emitted.
	second, err := driver.Run(context.Background(), engine.RunInput{
		Fetcher:     fetcher,
		Transformer: fakeTransformer{},
		Checkpoint:  first.Checkpoint,
	})
	require.NoError(t, err)
	assert.Empty(t, second.Contents)
	assert.Equal(t, first.Checkpoint.LastTimestamp, second.Checkpoint.LastTimestamp)
	assert.Equal(t, int64(5), second.Checkpoint.TotalItemsProcessed)
}

func TestDriverRun_RequiresStrategyValues(t *testing.T) {
	t.Parallel()

	driver := newDriver(engine.RunConfig{})
	_, err := driver.Run(context.Background(), engine.RunInput{
		Checkpoint: domain.NewCheckpoint("fake", domain.SourceKindHackerNews),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInvalidConfig))
}
