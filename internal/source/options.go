package source

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/engine"
)

// Options is the validated, typed configuration for one configured source.
// Exactly one of the per-kind option structs is set, matching Kind.
type Options struct {
	ID                string        `mapstructure:"id"                  yaml:"id"`
	Kind              string        `mapstructure:"kind"                yaml:"kind"`
	RateLimitInterval time.Duration `mapstructure:"rate_limit_interval" yaml:"rate_limit_interval"`
	MaxPages          int           `mapstructure:"max_pages"           yaml:"max_pages"`
	BaselineInterval  time.Duration `mapstructure:"baseline_interval"   yaml:"baseline_interval"`

	Enrichment *EnrichmentSettings `mapstructure:"enrichment" yaml:"enrichment"`

	HackerNews *HackerNewsOptions `mapstructure:"hackernews" yaml:"hackernews"`
	GitHub     *GitHubOptions     `mapstructure:"github"     yaml:"github"`
	Reddit     *RedditOptions     `mapstructure:"reddit"     yaml:"reddit"`
	Reviews    *ReviewsOptions    `mapstructure:"reviews"    yaml:"reviews"`
}

// HackerNewsOptions configures the Hacker News source.
type HackerNewsOptions struct {
	// Query restricts collection to matching stories; empty collects all.
	Query string `mapstructure:"query" yaml:"query"`
	// IncludeComments also collects comments linked to their stories.
	IncludeComments bool `mapstructure:"include_comments" yaml:"include_comments"`
	// MinPoints drops stories below this score.
	MinPoints int `mapstructure:"min_points" yaml:"min_points"`
}

// GitHubOptions configures the GitHub source.
type GitHubOptions struct {
	Owner string `mapstructure:"owner" yaml:"owner"`
	Repo  string `mapstructure:"repo"  yaml:"repo"`
	// ContentType selects "issues" or "comments".
	ContentType string `mapstructure:"content_type" yaml:"content_type"`
	// Labels filters issues by label. Label-filtered listings are not
	// reliably timestamp-ordered, so setting labels disables the
	// checkpoint short-circuit and termination relies on cursor
	// exhaustion alone.
	Labels []string `mapstructure:"labels" yaml:"labels"`
}

// RedditOptions configures the Reddit source.
type RedditOptions struct {
	Subreddit string `mapstructure:"subreddit" yaml:"subreddit"`
	// IncludeReplies enables reply-thread enrichment for high-engagement
	// posts.
	IncludeReplies bool `mapstructure:"include_replies" yaml:"include_replies"`
}

// ReviewsOptions configures the HTML review-page source.
type ReviewsOptions struct {
	// ProductURL is the review listing URL, paginated with ?page=N.
	ProductURL string `mapstructure:"product_url" yaml:"product_url"`
	// MinRating drops reviews below this rating.
	MinRating float64 `mapstructure:"min_rating" yaml:"min_rating"`
}

// DecodeOptions decodes a raw config map into Options.
func DecodeOptions(raw map[string]any) (*Options, error) {
	var opts Options
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &opts,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("build options decoder: %w", err)
	}
	if decodeErr := decoder.Decode(raw); decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvalidConfig, decodeErr)
	}
	return &opts, nil
}

// Validate checks that the options are complete and internally consistent.
func (o *Options) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: source id is required", engine.ErrInvalidConfig)
	}

	switch domain.SourceKind(o.Kind) {
	case domain.SourceKindHackerNews:
		if o.HackerNews == nil {
			o.HackerNews = &HackerNewsOptions{}
		}
	case domain.SourceKindGitHub:
		if o.GitHub == nil || o.GitHub.Owner == "" || o.GitHub.Repo == "" {
			return fmt.Errorf("%w: github source %q requires owner and repo", engine.ErrInvalidConfig, o.ID)
		}
		if o.GitHub.ContentType == "" {
			o.GitHub.ContentType = GitHubContentIssues
		}
		if o.GitHub.ContentType != GitHubContentIssues && o.GitHub.ContentType != GitHubContentComments {
			return fmt.Errorf("%w: github source %q has unknown content_type %q",
				engine.ErrInvalidConfig, o.ID, o.GitHub.ContentType)
		}
	case domain.SourceKindReddit:
		if o.Reddit == nil || o.Reddit.Subreddit == "" {
			return fmt.Errorf("%w: reddit source %q requires a subreddit", engine.ErrInvalidConfig, o.ID)
		}
	case domain.SourceKindReviews:
		if o.Reviews == nil || o.Reviews.ProductURL == "" {
			return fmt.Errorf("%w: reviews source %q requires a product_url", engine.ErrInvalidConfig, o.ID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, o.Kind)
	}

	return nil
}

// Build constructs the Source for validated options.
func (o *Options) Build() (Source, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	switch domain.SourceKind(o.Kind) {
	case domain.SourceKindHackerNews:
		return NewHackerNews(o), nil
	case domain.SourceKindGitHub:
		return NewGitHub(o), nil
	case domain.SourceKindReddit:
		return NewReddit(o), nil
	case domain.SourceKindReviews:
		return NewReviews(o), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, o.Kind)
	}
}
