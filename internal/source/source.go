// Package source defines the per-site collection strategies: each source is
// a small configuration value supplying a page fetcher, an item transformer
// and a filter to the shared engine, not a subclass of it.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/engine"
	"github.com/buremba/owletto-crawlers/internal/logger"
)

// ErrUnknownKind is returned when no source is registered for a kind.
var ErrUnknownKind = errors.New("unknown source kind")

// EnvBag carries externally supplied secrets (API tokens, cookies). Values
// are handed to page fetchers only and must never be stored or logged.
type EnvBag map[string]string

// Get returns a secret by key, or "" when absent.
func (b EnvBag) Get(key string) string {
	if b == nil {
		return ""
	}
	return b[key]
}

// EnrichmentSettings declares a source's secondary-pass bounds.
type EnrichmentSettings struct {
	// ScoreThreshold qualifies items at or above this score.
	ScoreThreshold float64 `mapstructure:"score_threshold" yaml:"score_threshold"`
	// ReplyThreshold qualifies items at or above this reply count, as an
	// alternative to the score threshold.
	ReplyThreshold int `mapstructure:"reply_threshold" yaml:"reply_threshold"`
	// Budget is the hard cap on enrichment fetches per run.
	Budget int `mapstructure:"budget" yaml:"budget"`
	// FetchTimeout bounds each enrichment fetch.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	// FlushEvery is the mid-run checkpoint flush cadence.
	FlushEvery int `mapstructure:"flush_every" yaml:"flush_every"`
}

// Qualify reports whether an item is worth an expensive follow-up fetch:
// at or above the score threshold, or at or above the reply threshold.
func (s *EnrichmentSettings) Qualify(item *domain.ContentItem) bool {
	if s.ScoreThreshold > 0 && item.Score >= s.ScoreThreshold {
		return true
	}
	if s.ReplyThreshold > 0 {
		if replies, ok := item.Metadata["reply_count"].(int); ok && replies >= s.ReplyThreshold {
			return true
		}
		if replies, ok := item.Metadata["reply_count"].(float64); ok && int(replies) >= s.ReplyThreshold {
			return true
		}
	}
	return false
}

// Scheduler builds the engine's enrichment scheduler for these settings.
func (s *EnrichmentSettings) Scheduler(
	enricher engine.Enricher,
	checkpoints *engine.CheckpointManager,
	log logger.Interface,
) *engine.EnrichmentScheduler {
	if s == nil || enricher == nil {
		return nil
	}
	return engine.NewEnrichmentScheduler(enricher, engine.EnrichmentConfig{
		Qualify:      s.Qualify,
		Budget:       s.Budget,
		FetchTimeout: s.FetchTimeout,
		FlushEvery:   s.FlushEvery,
	}, checkpoints, log)
}

// Descriptor declares a source's pagination behaviour. Every field the
// engine needs is explicit here; the driver never infers termination
// heuristics from observed behaviour.
type Descriptor struct {
	ID                 string
	Kind               domain.SourceKind
	RateLimitInterval  time.Duration
	MaxPages           int
	OrderedDescending  bool
	ContinuationPolicy domain.ContinuationPolicy
	BaselineInterval   time.Duration
	Enrichment         *EnrichmentSettings
}

// RunConfig converts the descriptor into the engine's run configuration.
func (d Descriptor) RunConfig() engine.RunConfig {
	return engine.RunConfig{
		MaxPages:           d.MaxPages,
		RateLimitInterval:  d.RateLimitInterval,
		OrderedDescending:  d.OrderedDescending,
		ContinuationPolicy: d.ContinuationPolicy,
		BaselineInterval:   d.BaselineInterval,
	}
}

// Run bundles the run-scoped strategy values a source hands to the engine.
// Close releases any run-scoped resources (an HTML collector, an open
// client) and must be called on every exit path.
type Run struct {
	Fetcher      engine.PageFetcher
	Transformer  engine.ItemTransformer
	Filter       engine.FilterPredicate
	DeriveParent engine.ParentDeriver
	Enricher     engine.Enricher
	Close        func() error
}

// Source is one site-specific collection strategy.
type Source interface {
	// Descriptor returns the source's declared pagination behaviour.
	Descriptor() Descriptor
	// NewRun acquires run-scoped resources and returns the strategy
	// values for one collection run.
	NewRun(ctx context.Context, secrets EnvBag) (*Run, error)
}

// noopClose is the Close for sources without run-scoped resources.
func noopClose() error { return nil }
