package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/engine"
)

// GitHub content types.
const (
	GitHubContentIssues   = "issues"
	GitHubContentComments = "comments"
)

// GitHub defaults.
const (
	githubAPIBase          = "https://api.github.com"
	githubPerPage          = 100
	githubDefaultRateLimit = time.Second
	githubDefaultMaxPages  = 10
	githubRequestTimeout   = 30 * time.Second
	githubDefaultBaseline  = 2 * time.Hour
	githubTokenEnvKey      = "GITHUB_TOKEN"
)

// githubIssueURLPattern extracts the issue number from an issue or comment
// HTML URL.
var githubIssueURLPattern = regexp.MustCompile(`/issues/(\d+)`)

// GitHub collects issues or issue comments from the REST API, paginated via
// the Link response header.
type GitHub struct {
	opts    *Options
	apiBase string
	client  *http.Client
}

// NewGitHub creates the GitHub source.
func NewGitHub(opts *Options) *GitHub {
	return &GitHub{
		opts:    opts,
		apiBase: githubAPIBase,
		client:  &http.Client{Timeout: githubRequestTimeout},
	}
}

// Descriptor returns the declared pagination behaviour. Label-filtered issue
// listings are not reliably timestamp-ordered, so the checkpoint
// short-circuit is only declared for unfiltered listings; filtered runs
// terminate on cursor exhaustion or the page cap.
func (s *GitHub) Descriptor() Descriptor {
	labelFiltered := len(s.opts.GitHub.Labels) > 0
	return Descriptor{
		ID:                 s.opts.ID,
		Kind:               domain.SourceKindGitHub,
		RateLimitInterval:  durationOr(s.opts.RateLimitInterval, githubDefaultRateLimit),
		MaxPages:           intOr(s.opts.MaxPages, githubDefaultMaxPages),
		OrderedDescending:  !labelFiltered,
		ContinuationPolicy: domain.ContinuationRestart,
		BaselineInterval:   durationOr(s.opts.BaselineInterval, githubDefaultBaseline),
		Enrichment:         s.opts.Enrichment,
	}
}

// NewRun builds the strategy values for one run. The API token from the
// secrets bag is handed to the fetcher only.
func (s *GitHub) NewRun(_ context.Context, secrets EnvBag) (*Run, error) {
	gh := s.opts.GitHub
	return &Run{
		Fetcher: &githubFetcher{
			apiBase: s.apiBase,
			client:  s.client,
			opts:    gh,
			token:   secrets.Get(githubTokenEnvKey),
		},
		Transformer:  githubTransformer{contentType: gh.ContentType},
		Filter:       githubFilter(gh),
		DeriveParent: githubDeriveParent,
		Close:        noopClose,
	}, nil
}

// githubItem covers the fields used from both issues and comments.
type githubItem struct {
	ID          int64           `json:"id"`
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	HTMLURL     string          `json:"html_url"`
	State       string          `json:"state"`
	Comments    int             `json:"comments"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	User        githubUser      `json:"user"`
	PullRequest json.RawMessage `json:"pull_request"`
	Labels      []githubLabel   `json:"labels"`
	Reactions   githubReactions `json:"reactions"`
}

type githubUser struct {
	Login string `json:"login"`
}

type githubLabel struct {
	Name string `json:"name"`
}

type githubReactions struct {
	TotalCount int `json:"total_count"`
}

// githubFetcher pages via the Link header. The cursor is the full next-page
// URL returned by the API.
type githubFetcher struct {
	apiBase string
	client  *http.Client
	opts    *GitHubOptions
	token   string
}

// FetchPage fetches one page of issues or comments.
func (f *githubFetcher) FetchPage(ctx context.Context, cursor *string) (*domain.PageResult, error) {
	endpoint := f.firstPageURL()
	if cursor != nil {
		endpoint = *cursor
	}

	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if f.token != "" {
		headers["Authorization"] = "Bearer " + f.token
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if classifyErr := engine.ClassifyStatus(resp.StatusCode, resp.Header); classifyErr != nil {
		return nil, classifyErr
	}

	var items []json.RawMessage
	if decodeErr := json.NewDecoder(resp.Body).Decode(&items); decodeErr != nil {
		return nil, fmt.Errorf("decode page: %w", decodeErr)
	}

	result := &domain.PageResult{RawCount: len(items)}
	for _, item := range items {
		result.Items = append(result.Items, domain.RawItem{JSON: item})
	}
	if next := parseLinkNext(resp.Header.Get("Link")); next != "" {
		result.NextCursor = &next
	}
	return result, nil
}

// firstPageURL builds the listing URL for page one.
func (f *githubFetcher) firstPageURL() string {
	query := url.Values{}
	query.Set("per_page", fmt.Sprintf("%d", githubPerPage))
	query.Set("sort", "created")
	query.Set("direction", "desc")

	var path string
	if f.opts.ContentType == GitHubContentComments {
		path = fmt.Sprintf("/repos/%s/%s/issues/comments", f.opts.Owner, f.opts.Repo)
	} else {
		path = fmt.Sprintf("/repos/%s/%s/issues", f.opts.Owner, f.opts.Repo)
		query.Set("state", "all")
		if len(f.opts.Labels) > 0 {
			query.Set("labels", strings.Join(f.opts.Labels, ","))
		}
	}
	return f.apiBase + path + "?" + query.Encode()
}

// parseLinkNext extracts the rel="next" URL from a Link header, or "".
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		if strings.TrimSpace(section[1]) != `rel="next"` {
			continue
		}
		link := strings.TrimSpace(section[0])
		return strings.Trim(link, "<>")
	}
	return ""
}

// githubFilter drops pull requests from issue listings; they share the
// issues endpoint but are not collected content.
func githubFilter(opts *GitHubOptions) engine.FilterPredicate {
	if opts.ContentType == GitHubContentComments {
		return nil
	}
	return func(raw domain.RawItem) bool {
		var item githubItem
		if err := json.Unmarshal(raw.JSON, &item); err != nil {
			return false
		}
		return len(item.PullRequest) == 0
	}
}

// githubTransformer normalizes issues or comments.
type githubTransformer struct {
	contentType string
}

// Transform converts one API record into a content item.
func (t githubTransformer) Transform(raw domain.RawItem) (*domain.ContentItem, error) {
	var item githubItem
	if err := json.Unmarshal(raw.JSON, &item); err != nil {
		return nil, fmt.Errorf("%w: github %s: %w", engine.ErrParse, t.contentType, err)
	}

	if t.contentType == GitHubContentComments {
		return &domain.ContentItem{
			ExternalID:  fmt.Sprintf("gh-comment-%d", item.ID),
			Content:     item.Body,
			Author:      item.User.Login,
			URL:         item.HTMLURL,
			PublishedAt: item.CreatedAt.UTC(),
			Score:       float64(item.Reactions.TotalCount),
			Metadata:    domain.JSONBMap{"content_type": GitHubContentComments},
		}, nil
	}

	labels := make([]string, 0, len(item.Labels))
	for _, label := range item.Labels {
		labels = append(labels, label.Name)
	}

	return &domain.ContentItem{
		ExternalID:  fmt.Sprintf("gh-issue-%d", item.Number),
		Title:       item.Title,
		Content:     item.Body,
		Author:      item.User.Login,
		URL:         item.HTMLURL,
		PublishedAt: item.CreatedAt.UTC(),
		Score:       float64(item.Comments + item.Reactions.TotalCount),
		Metadata: domain.JSONBMap{
			"content_type": GitHubContentIssues,
			"state":        item.State,
			"labels":       labels,
			"reply_count":  item.Comments,
		},
	}, nil
}

// githubDeriveParent links a comment to its issue. The comment payload does
// not carry the issue number directly, so it is parsed out of the HTML URL;
// the parent issue may have been collected in a prior run.
func githubDeriveParent(item *domain.ContentItem) string {
	if contentType, _ := item.Metadata["content_type"].(string); contentType != GitHubContentComments {
		return ""
	}
	match := githubIssueURLPattern.FindStringSubmatch(item.URL)
	if len(match) < 2 {
		return ""
	}
	return "gh-issue-" + match[1]
}
