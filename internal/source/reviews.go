package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	colly "github.com/gocolly/colly/v2"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/engine"
)

// Review page defaults. Review sites are the most sensitive targets, so the
// default inter-page delay is the largest of any source.
const (
	reviewsDefaultRateLimit = 8 * time.Second
	reviewsDefaultMaxPages  = 5
	reviewsDefaultBaseline  = 24 * time.Hour
	reviewsRequestTimeout   = 30 * time.Second
	reviewsDateLayout       = "2006-01-02"
)

// Review card selectors.
const (
	reviewCardSelector   = "div.review[data-review-id]"
	reviewNextSelector   = "a[rel=next], a.next-page"
	reviewTitleSelector  = ".review-title"
	reviewBodySelector   = ".review-body"
	reviewAuthorSelector = ".review-author"
	reviewDateSelector   = "time[datetime]"
	reviewRatingAttr     = "data-rating"
)

// Reviews collects product reviews from paginated HTML listing pages. The
// HTML collector is a run-scoped resource: acquired in NewRun, released by
// Run.Close on every exit path, never shared across concurrent runs.
type Reviews struct {
	opts *Options
}

// NewReviews creates the reviews source.
func NewReviews(opts *Options) *Reviews {
	return &Reviews{opts: opts}
}

// Descriptor returns the declared pagination behaviour: review listings are
// newest-first and page numbers restart from one each run.
func (s *Reviews) Descriptor() Descriptor {
	return Descriptor{
		ID:                 s.opts.ID,
		Kind:               domain.SourceKindReviews,
		RateLimitInterval:  durationOr(s.opts.RateLimitInterval, reviewsDefaultRateLimit),
		MaxPages:           intOr(s.opts.MaxPages, reviewsDefaultMaxPages),
		OrderedDescending:  true,
		ContinuationPolicy: domain.ContinuationRestart,
		BaselineInterval:   durationOr(s.opts.BaselineInterval, reviewsDefaultBaseline),
		Enrichment:         s.opts.Enrichment,
	}
}

// NewRun acquires the scoped collector for one run.
func (s *Reviews) NewRun(_ context.Context, _ EnvBag) (*Run, error) {
	productURL, err := url.Parse(s.opts.Reviews.ProductURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad product_url: %w", engine.ErrInvalidConfig, err)
	}

	fetcher := newReviewFetcher(productURL)

	return &Run{
		Fetcher:     fetcher,
		Transformer: reviewTransformer{},
		Filter:      reviewFilter(s.opts.Reviews),
		Close:       fetcher.close,
	}, nil
}

// reviewFetcher drives a colly collector over numbered listing pages. The
// cursor is the page number.
type reviewFetcher struct {
	productURL *url.URL
	collector  *colly.Collector

	// per-visit state, reset before each page fetch
	items    []domain.RawItem
	hasNext  bool
	fetchErr error
}

// newReviewFetcher builds the collector and registers its handlers once.
func newReviewFetcher(productURL *url.URL) *reviewFetcher {
	collector := colly.NewCollector(
		colly.UserAgent(defaultUserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(reviewsRequestTimeout)

	f := &reviewFetcher{productURL: productURL, collector: collector}

	collector.OnHTML(reviewCardSelector, func(el *colly.HTMLElement) {
		fields := map[string]string{
			"id":     el.Attr("data-review-id"),
			"rating": el.Attr(reviewRatingAttr),
			"title":  strings.TrimSpace(el.ChildText(reviewTitleSelector)),
			"body":   strings.TrimSpace(el.ChildText(reviewBodySelector)),
			"author": strings.TrimSpace(el.ChildText(reviewAuthorSelector)),
			"date":   el.ChildAttr(reviewDateSelector, "datetime"),
			"url":    el.Request.URL.String() + "#" + el.Attr("data-review-id"),
		}
		f.items = append(f.items, domain.RawItem{Fields: fields})
	})

	collector.OnHTML(reviewNextSelector, func(_ *colly.HTMLElement) {
		f.hasNext = true
	})

	collector.OnError(func(resp *colly.Response, visitErr error) {
		if resp != nil && resp.StatusCode > 0 {
			headers := resp.Headers
			if headers == nil {
				f.fetchErr = engine.ClassifyStatus(resp.StatusCode, nil)
				return
			}
			f.fetchErr = engine.ClassifyStatus(resp.StatusCode, *headers)
			return
		}
		f.fetchErr = fmt.Errorf("%w: %w", engine.ErrTransientNetwork, visitErr)
	})

	return f
}

// FetchPage visits one listing page and returns the extracted review cards.
func (f *reviewFetcher) FetchPage(ctx context.Context, cursor *string) (*domain.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.collector == nil {
		return nil, fmt.Errorf("%w: collector already released", engine.ErrInvalidConfig)
	}

	page := 1
	if cursor != nil {
		parsed, err := strconv.Atoi(*cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: bad page cursor %q", engine.ErrInvalidConfig, *cursor)
		}
		page = parsed
	}

	f.items = nil
	f.hasNext = false
	f.fetchErr = nil

	if visitErr := f.collector.Visit(f.pageURL(page)); visitErr != nil && f.fetchErr == nil {
		f.fetchErr = fmt.Errorf("%w: %w", engine.ErrTransientNetwork, visitErr)
	}
	f.collector.Wait()

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	result := &domain.PageResult{Items: f.items, RawCount: len(f.items)}
	if f.hasNext {
		next := strconv.Itoa(page + 1)
		result.NextCursor = &next
	}
	return result, nil
}

// pageURL appends the page number to the product URL.
func (f *reviewFetcher) pageURL(page int) string {
	pageURL := *f.productURL
	query := pageURL.Query()
	query.Set("page", strconv.Itoa(page))
	pageURL.RawQuery = query.Encode()
	return pageURL.String()
}

// close releases the collector. Safe to call after a failed run.
func (f *reviewFetcher) close() error {
	if f.collector != nil {
		f.collector.Wait()
		f.collector = nil
	}
	return nil
}

// reviewFilter drops cards without an identity and reviews rated below the
// configured minimum.
func reviewFilter(opts *ReviewsOptions) engine.FilterPredicate {
	return func(raw domain.RawItem) bool {
		if raw.Fields["id"] == "" {
			return false
		}
		if opts.MinRating > 0 {
			rating, err := strconv.ParseFloat(raw.Fields["rating"], 64)
			if err != nil || rating < opts.MinRating {
				return false
			}
		}
		return true
	}
}

// reviewTransformer normalizes one extracted review card.
type reviewTransformer struct{}

// Transform converts extracted fields into a content item.
func (reviewTransformer) Transform(raw domain.RawItem) (*domain.ContentItem, error) {
	publishedAt, err := time.Parse(reviewsDateLayout, raw.Fields["date"])
	if err != nil {
		return nil, fmt.Errorf("%w: review date %q: %w", engine.ErrParse, raw.Fields["date"], err)
	}

	rating, err := strconv.ParseFloat(raw.Fields["rating"], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: review rating %q: %w", engine.ErrParse, raw.Fields["rating"], err)
	}

	return &domain.ContentItem{
		ExternalID:  "rv-" + raw.Fields["id"],
		Title:       raw.Fields["title"],
		Content:     raw.Fields["body"],
		Author:      raw.Fields["author"],
		URL:         raw.Fields["url"],
		PublishedAt: publishedAt.UTC(),
		Score:       rating,
		Metadata:    domain.JSONBMap{"rating": rating},
	}, nil
}
