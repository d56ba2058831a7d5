package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/engine"
)

// Hacker News defaults.
const (
	hnAPIBase           = "https://hn.algolia.com/api/v1"
	hnHitsPerPage       = 100
	hnDefaultRateLimit  = time.Second
	hnDefaultMaxPages   = 20
	hnRequestTimeout    = 30 * time.Second
	hnExternalIDPrefix  = "hn-"
	hnArticleMaxLength  = 20000
	hnDefaultBaseline   = time.Hour
	hnArticleFetchLimit = 1 << 20 // response body cap for article fetches
)

// HackerNews collects stories (and optionally comments) from the Algolia
// Hacker News search API, paginated by page number in strict descending
// creation order.
type HackerNews struct {
	opts    *Options
	apiBase string
	client  *http.Client
}

// NewHackerNews creates the Hacker News source.
func NewHackerNews(opts *Options) *HackerNews {
	return &HackerNews{
		opts:    opts,
		apiBase: hnAPIBase,
		client:  &http.Client{Timeout: hnRequestTimeout},
	}
}

// Descriptor returns the declared pagination behaviour: search_by_date is
// strictly descending, and a drained page counter restarts from the top.
func (s *HackerNews) Descriptor() Descriptor {
	return Descriptor{
		ID:                 s.opts.ID,
		Kind:               domain.SourceKindHackerNews,
		RateLimitInterval:  durationOr(s.opts.RateLimitInterval, hnDefaultRateLimit),
		MaxPages:           intOr(s.opts.MaxPages, hnDefaultMaxPages),
		OrderedDescending:  true,
		ContinuationPolicy: domain.ContinuationRestart,
		BaselineInterval:   durationOr(s.opts.BaselineInterval, hnDefaultBaseline),
		Enrichment:         s.opts.Enrichment,
	}
}

// NewRun builds the strategy values for one run. No run-scoped resource is
// held beyond the shared HTTP client.
func (s *HackerNews) NewRun(_ context.Context, _ EnvBag) (*Run, error) {
	hn := s.opts.HackerNews
	return &Run{
		Fetcher:      &hnFetcher{apiBase: s.apiBase, client: s.client, opts: hn},
		Transformer:  hnTransformer{},
		Filter:       hnFilter(hn),
		DeriveParent: hnDeriveParent,
		Enricher:     &articleEnricher{client: s.client},
		Close:        noopClose,
	}, nil
}

// hnHit is one Algolia search hit.
type hnHit struct {
	ObjectID    string   `json:"objectID"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Author      string   `json:"author"`
	Points      int      `json:"points"`
	StoryText   string   `json:"story_text"`
	CommentText string   `json:"comment_text"`
	StoryID     int64    `json:"story_id"`
	NumComments int      `json:"num_comments"`
	CreatedAtI  int64    `json:"created_at_i"`
	Tags        []string `json:"_tags"`
}

// hnSearchResponse is the Algolia search envelope.
type hnSearchResponse struct {
	Hits    []json.RawMessage `json:"hits"`
	Page    int               `json:"page"`
	NbPages int               `json:"nbPages"`
}

// hnFetcher pages through search_by_date. The cursor is the page number.
type hnFetcher struct {
	apiBase string
	client  *http.Client
	opts    *HackerNewsOptions
}

// FetchPage fetches one page of hits.
func (f *hnFetcher) FetchPage(ctx context.Context, cursor *string) (*domain.PageResult, error) {
	page := 0
	if cursor != nil {
		parsed, err := strconv.Atoi(*cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: bad page cursor %q", engine.ErrInvalidConfig, *cursor)
		}
		page = parsed
	}

	tags := "story"
	if f.opts.IncludeComments {
		tags = "(story,comment)"
	}

	query := url.Values{}
	query.Set("tags", tags)
	query.Set("hitsPerPage", strconv.Itoa(hnHitsPerPage))
	query.Set("page", strconv.Itoa(page))
	if f.opts.Query != "" {
		query.Set("query", f.opts.Query)
	}

	endpoint := f.apiBase + "/search_by_date?" + query.Encode()
	body, err := fetchJSON(ctx, f.client, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp hnSearchResponse
	if unmarshalErr := json.Unmarshal(body, &resp); unmarshalErr != nil {
		return nil, fmt.Errorf("decode search response: %w", unmarshalErr)
	}

	result := &domain.PageResult{RawCount: len(resp.Hits)}
	for _, hit := range resp.Hits {
		result.Items = append(result.Items, domain.RawItem{JSON: hit})
	}
	if resp.Page+1 < resp.NbPages {
		next := strconv.Itoa(resp.Page + 1)
		result.NextCursor = &next
	}
	return result, nil
}

// hnFilter drops hits below the configured point threshold. Comments carry
// no points and always pass.
func hnFilter(opts *HackerNewsOptions) engine.FilterPredicate {
	return func(raw domain.RawItem) bool {
		var hit hnHit
		if err := json.Unmarshal(raw.JSON, &hit); err != nil {
			return false
		}
		if hit.ObjectID == "" {
			return false
		}
		if opts.MinPoints > 0 && hasTag(hit.Tags, "story") && hit.Points < opts.MinPoints {
			return false
		}
		return true
	}
}

// hnTransformer normalizes one hit.
type hnTransformer struct{}

// Transform converts a hit into a content item.
func (hnTransformer) Transform(raw domain.RawItem) (*domain.ContentItem, error) {
	var hit hnHit
	if err := json.Unmarshal(raw.JSON, &hit); err != nil {
		return nil, fmt.Errorf("%w: hacker news hit: %w", engine.ErrParse, err)
	}

	item := &domain.ContentItem{
		ExternalID:  hnExternalIDPrefix + hit.ObjectID,
		Title:       hit.Title,
		Author:      hit.Author,
		URL:         hit.URL,
		PublishedAt: time.Unix(hit.CreatedAtI, 0).UTC(),
		Score:       float64(hit.Points),
		Metadata: domain.JSONBMap{
			"reply_count": hit.NumComments,
			"tags":        hit.Tags,
		},
	}

	switch {
	case hit.CommentText != "":
		item.Content = hit.CommentText
		item.URL = fmt.Sprintf("https://news.ycombinator.com/item?id=%s", hit.ObjectID)
		if hit.StoryID > 0 {
			item.ParentExternalID = hnExternalIDPrefix + strconv.FormatInt(hit.StoryID, 10)
		}
	case hit.StoryText != "":
		item.Content = hit.StoryText
	default:
		item.Content = hit.Title
	}
	if item.URL == "" {
		item.URL = fmt.Sprintf("https://news.ycombinator.com/item?id=%s", hit.ObjectID)
	}

	return item, nil
}

// hnDeriveParent maps a comment to its story.
func hnDeriveParent(item *domain.ContentItem) string {
	return item.ParentExternalID
}

// articleEnricher fetches the linked article for a high-score story and
// attaches its extracted text.
type articleEnricher struct {
	client *http.Client
}

// Enrich fetches item.URL and replaces the content with the article text.
func (e *articleEnricher) Enrich(ctx context.Context, item *domain.ContentItem) ([]*domain.ContentItem, error) {
	if item.URL == "" || strings.Contains(item.URL, "news.ycombinator.com") {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build article request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if classifyErr := engine.ClassifyStatus(resp.StatusCode, resp.Header); classifyErr != nil {
		return nil, classifyErr
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, hnArticleFetchLimit))
	if err != nil {
		return nil, fmt.Errorf("parse article html: %w", err)
	}

	text := extractArticleText(doc)
	if text != "" {
		item.Content = text
		if item.Metadata == nil {
			item.Metadata = domain.JSONBMap{}
		}
		item.Metadata["article_extracted"] = true
	}
	return nil, nil
}

// extractArticleText joins paragraph text, capped at a sane length.
func extractArticleText(doc *goquery.Document) string {
	var parts []string
	total := 0
	doc.Find("article p, main p, body p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return true
		}
		parts = append(parts, text)
		total += len(text)
		return total < hnArticleMaxLength
	})
	return strings.Join(parts, "\n\n")
}

// hasTag reports whether tags contains tag.
func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// durationOr returns d unless it is zero.
func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// intOr returns n unless it is zero.
func intOr(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}
