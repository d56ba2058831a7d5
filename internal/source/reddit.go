package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/engine"
)

// Reddit defaults.
const (
	redditAPIBase          = "https://www.reddit.com"
	redditPageLimit        = 100
	redditDefaultRateLimit = 2 * time.Second
	redditDefaultMaxPages  = 10
	redditRequestTimeout   = 30 * time.Second
	redditDefaultBaseline  = time.Hour
	redditUserAgentEnvKey  = "REDDIT_USER_AGENT"
	redditMaxReplyDepth    = 50
)

// Reddit collects posts from a subreddit's new listing, paginated with the
// "after" fullname token, with optional reply-thread enrichment for
// high-engagement posts.
type Reddit struct {
	opts    *Options
	apiBase string
	client  *http.Client
}

// NewReddit creates the Reddit source.
func NewReddit(opts *Options) *Reddit {
	return &Reddit{
		opts:    opts,
		apiBase: redditAPIBase,
		client:  &http.Client{Timeout: redditRequestTimeout},
	}
}

// Descriptor returns the declared pagination behaviour: /new is strictly
// descending and a drained "after" token restarts from the top next run.
func (s *Reddit) Descriptor() Descriptor {
	return Descriptor{
		ID:                 s.opts.ID,
		Kind:               domain.SourceKindReddit,
		RateLimitInterval:  durationOr(s.opts.RateLimitInterval, redditDefaultRateLimit),
		MaxPages:           intOr(s.opts.MaxPages, redditDefaultMaxPages),
		OrderedDescending:  true,
		ContinuationPolicy: domain.ContinuationRestart,
		BaselineInterval:   durationOr(s.opts.BaselineInterval, redditDefaultBaseline),
		Enrichment:         s.opts.Enrichment,
	}
}

// NewRun builds the strategy values for one run.
func (s *Reddit) NewRun(_ context.Context, secrets EnvBag) (*Run, error) {
	userAgent := secrets.Get(redditUserAgentEnvKey)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	run := &Run{
		Fetcher: &redditFetcher{
			apiBase:   s.apiBase,
			client:    s.client,
			subreddit: s.opts.Reddit.Subreddit,
			userAgent: userAgent,
		},
		Transformer:  redditTransformer{},
		Filter:       redditFilter,
		DeriveParent: redditDeriveParent,
		Close:        noopClose,
	}
	if s.opts.Reddit.IncludeReplies {
		run.Enricher = &redditThreadEnricher{
			apiBase:   s.apiBase,
			client:    s.client,
			userAgent: userAgent,
		}
	}
	return run, nil
}

// redditListing is the listing envelope.
type redditListing struct {
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
		After *string `json:"after"`
	} `json:"data"`
}

// redditPost covers the listing fields used for normalization.
type redditPost struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Title             string  `json:"title"`
	SelfText          string  `json:"selftext"`
	Author            string  `json:"author"`
	Permalink         string  `json:"permalink"`
	URL               string  `json:"url"`
	Score             float64 `json:"score"`
	NumComments       int     `json:"num_comments"`
	CreatedUTC        float64 `json:"created_utc"`
	Stickied          bool    `json:"stickied"`
	RemovedByCategory string  `json:"removed_by_category"`
	CrosspostParent   string  `json:"crosspost_parent"`
	Subreddit         string  `json:"subreddit"`
}

// redditFetcher pages through /r/{sub}/new.json with the after token.
type redditFetcher struct {
	apiBase   string
	client    *http.Client
	subreddit string
	userAgent string
}

// FetchPage fetches one listing page.
func (f *redditFetcher) FetchPage(ctx context.Context, cursor *string) (*domain.PageResult, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(redditPageLimit))
	query.Set("raw_json", "1")
	if cursor != nil {
		query.Set("after", *cursor)
	}

	endpoint := fmt.Sprintf("%s/r/%s/new.json?%s", f.apiBase, f.subreddit, query.Encode())
	body, err := fetchJSON(ctx, f.client, endpoint, map[string]string{"User-Agent": f.userAgent})
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if unmarshalErr := json.Unmarshal(body, &listing); unmarshalErr != nil {
		return nil, fmt.Errorf("decode listing: %w", unmarshalErr)
	}

	result := &domain.PageResult{
		RawCount:   len(listing.Data.Children),
		NextCursor: listing.Data.After,
	}
	for _, child := range listing.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		result.Items = append(result.Items, domain.RawItem{JSON: child.Data})
	}
	return result, nil
}

// redditFilter drops removed, deleted, stickied and cross-posted entries.
func redditFilter(raw domain.RawItem) bool {
	var post redditPost
	if err := json.Unmarshal(raw.JSON, &post); err != nil {
		return false
	}
	if post.ID == "" || post.RemovedByCategory != "" || post.Stickied {
		return false
	}
	if post.Author == "[deleted]" || post.SelfText == "[removed]" {
		return false
	}
	return post.CrosspostParent == ""
}

// redditTransformer normalizes one post.
type redditTransformer struct{}

// Transform converts a listing post into a content item.
func (redditTransformer) Transform(raw domain.RawItem) (*domain.ContentItem, error) {
	var post redditPost
	if err := json.Unmarshal(raw.JSON, &post); err != nil {
		return nil, fmt.Errorf("%w: reddit post: %w", engine.ErrParse, err)
	}

	content := post.SelfText
	if content == "" {
		content = post.Title
	}

	return &domain.ContentItem{
		ExternalID:  "rd-" + post.Name,
		Title:       post.Title,
		Content:     content,
		Author:      post.Author,
		URL:         redditAPIBase + post.Permalink,
		PublishedAt: time.Unix(int64(post.CreatedUTC), 0).UTC(),
		Score:       post.Score,
		Metadata: domain.JSONBMap{
			"reply_count": post.NumComments,
			"subreddit":   post.Subreddit,
			"link_url":    post.URL,
			"permalink":   post.Permalink,
		},
	}, nil
}

// redditDeriveParent returns "" for listing posts; replies appended by the
// thread enricher carry their parent directly.
func redditDeriveParent(item *domain.ContentItem) string {
	return item.ParentExternalID
}

// redditComment covers the thread fields used for reply normalization.
type redditComment struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Body       string  `json:"body"`
	Author     string  `json:"author"`
	Score      float64 `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	Permalink  string  `json:"permalink"`
}

// redditThreadEnricher fetches a post's comment thread once per post across
// runs; the engine's done-set guarantees the idempotence.
type redditThreadEnricher struct {
	apiBase   string
	client    *http.Client
	userAgent string
}

// Enrich fetches the reply thread and returns the replies as late-arriving
// child items linked to the post.
func (e *redditThreadEnricher) Enrich(ctx context.Context, item *domain.ContentItem) ([]*domain.ContentItem, error) {
	permalink, _ := item.Metadata["permalink"].(string)
	if permalink == "" {
		return nil, nil
	}

	endpoint := e.apiBase + permalink + ".json?raw_json=1"
	body, err := fetchJSON(ctx, e.client, endpoint, map[string]string{"User-Agent": e.userAgent})
	if err != nil {
		return nil, err
	}

	// A thread response is [post listing, comment listing].
	var listings []redditListing
	if unmarshalErr := json.Unmarshal(body, &listings); unmarshalErr != nil {
		return nil, fmt.Errorf("decode thread: %w", unmarshalErr)
	}
	if len(listings) < 2 {
		return nil, nil
	}

	var replies []*domain.ContentItem
	for _, child := range listings[1].Data.Children {
		if child.Kind != "t1" || len(replies) >= redditMaxReplyDepth {
			continue
		}

		var comment redditComment
		if unmarshalErr := json.Unmarshal(child.Data, &comment); unmarshalErr != nil {
			continue
		}
		if comment.ID == "" || comment.Author == "[deleted]" {
			continue
		}

		replies = append(replies, &domain.ContentItem{
			ExternalID:       "rd-" + comment.Name,
			Content:          comment.Body,
			Author:           comment.Author,
			URL:              redditAPIBase + comment.Permalink,
			PublishedAt:      time.Unix(int64(comment.CreatedUTC), 0).UTC(),
			Score:            comment.Score,
			ParentExternalID: item.ExternalID,
			Metadata:         domain.JSONBMap{"kind": "comment"},
		})
	}
	return replies, nil
}
