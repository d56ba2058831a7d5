// Package collector wires a configured source to the collection engine for
// one run: checkpoint load, strategy construction, driver execution,
// delivery and rescheduling.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/buremba/owletto-crawlers/internal/domain"
	"github.com/buremba/owletto-crawlers/internal/engine"
	"github.com/buremba/owletto-crawlers/internal/logger"
	"github.com/buremba/owletto-crawlers/internal/metrics"
	"github.com/buremba/owletto-crawlers/internal/source"
)

// CheckpointRepository persists per-source resume state.
type CheckpointRepository interface {
	GetOrCreate(ctx context.Context, sourceID string, kind domain.SourceKind) (*domain.Checkpoint, error)
	Save(ctx context.Context, checkpoint *domain.Checkpoint) error
}

// Sink receives the collected contents of a completed run.
type Sink interface {
	Deliver(ctx context.Context, result *domain.CollectionResult) error
}

// IntervalAdvisor adjusts the delay before a source's next run from how
// productive this run was. A run that found nothing backs the source off;
// a productive run pulls it back toward its baseline.
type IntervalAdvisor interface {
	NextInterval(ctx context.Context, sourceID string, newItems int, baseline time.Duration) time.Duration
}

// Report summarizes one finished run for the scheduler and the API.
type Report struct {
	RunID     string
	SourceID  string
	Stats     domain.RunStats
	Duration  time.Duration
	NextRunAt time.Time
}

// Runner executes collection runs. It owns the ambient dependencies every
// run shares; the source supplies the per-site strategy.
type Runner struct {
	checkpoints CheckpointRepository
	sink        Sink
	advisor     IntervalAdvisor
	secrets     source.EnvBag
	metrics     *metrics.RunMetrics
	logger      logger.Interface
	now         func() time.Time
}

// NewRunner creates a run executor. The sink and advisor may be nil; runs
// then collect without delivering and reschedule at the source baseline.
func NewRunner(
	checkpoints CheckpointRepository,
	sink Sink,
	advisor IntervalAdvisor,
	secrets source.EnvBag,
	runMetrics *metrics.RunMetrics,
	log logger.Interface,
) *Runner {
	if runMetrics == nil {
		runMetrics = metrics.NewRunMetrics()
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Runner{
		checkpoints: checkpoints,
		sink:        sink,
		advisor:     advisor,
		secrets:     secrets,
		metrics:     runMetrics,
		logger:      log,
		now:         time.Now,
	}
}

// Collect executes one run of the given source end to end. On failure the
// returned report still carries the recommended next attempt time; rate
// limiting is never retried inside the run, only rescheduled.
func (r *Runner) Collect(ctx context.Context, src source.Source) (*Report, error) {
	desc := src.Descriptor()
	runID := uuid.NewString()
	log := r.logger.WithSource(desc.ID).WithRunID(runID)
	started := r.now()

	checkpoint, err := r.checkpoints.GetOrCreate(ctx, desc.ID, desc.Kind)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for %s: %w", desc.ID, err)
	}

	log.Info("starting collection run",
		"kind", string(desc.Kind),
		"last_timestamp", checkpoint.LastTimestamp,
		"total_items_processed", checkpoint.TotalItemsProcessed,
	)

	run, err := src.NewRun(ctx, r.secrets)
	if err != nil {
		return nil, fmt.Errorf("prepare run for %s: %w", desc.ID, err)
	}
	defer func() {
		if closeErr := run.Close(); closeErr != nil {
			log.Warn("releasing run resources failed", "error", closeErr.Error())
		}
	}()

	manager := engine.NewCheckpointManager(r.checkpoints, log)
	driver := engine.NewDriver(desc.RunConfig(), manager, r.metrics, log)

	result, err := driver.Run(ctx, engine.RunInput{
		Fetcher:      run.Fetcher,
		Transformer:  run.Transformer,
		Filter:       run.Filter,
		DeriveParent: run.DeriveParent,
		Enrichment:   desc.Enrichment.Scheduler(run.Enricher, manager, log),
		Checkpoint:   checkpoint,
	})
	if err != nil {
		return r.failed(desc, runID, started, log, err)
	}

	// A delivery failure leaves the previous checkpoint in place; the next
	// run re-collects and redelivers the batch.
	if r.sink != nil && len(result.Contents) > 0 {
		if deliverErr := r.sink.Deliver(ctx, result); deliverErr != nil {
			return nil, fmt.Errorf("deliver %d items for %s: %w",
				len(result.Contents), desc.ID, deliverErr)
		}
	}

	if saveErr := r.checkpoints.Save(ctx, result.Checkpoint); saveErr != nil {
		return nil, fmt.Errorf("save checkpoint for %s: %w", desc.ID, saveErr)
	}

	report := &Report{
		RunID:     runID,
		SourceID:  desc.ID,
		Stats:     result.Stats,
		Duration:  r.now().Sub(started),
		NextRunAt: r.nextRunAt(ctx, desc, result.Stats.ItemsFound),
	}

	log.Info("collection run finished",
		"items_found", report.Stats.ItemsFound,
		"items_skipped", report.Stats.ItemsSkipped,
		"pages_fetched", report.Stats.PagesFetched,
		"enriched", report.Stats.EnrichedCount,
		"duration_ms", report.Duration.Milliseconds(),
		"next_run_at", report.NextRunAt,
	)
	return report, nil
}

// failed classifies a run failure and schedules the next attempt: a
// rate-limit error reschedules at the upstream-advertised delay, fatal
// errors push the source out a full baseline, transient ones retry sooner.
func (r *Runner) failed(
	desc source.Descriptor,
	runID string,
	started time.Time,
	log logger.Interface,
	runErr error,
) (*Report, error) {
	nextRunAt := r.now().Add(desc.BaselineInterval)

	var rateLimit *engine.RateLimitError
	switch {
	case errors.As(runErr, &rateLimit):
		r.metrics.RecordRateLimited()
		if rateLimit.RetryAfter > 0 {
			nextRunAt = r.now().Add(rateLimit.RetryAfter)
		}
		log.Warn("run rate limited by upstream",
			"retry_after", rateLimit.RetryAfter.String(),
			"next_run_at", nextRunAt,
		)
	case engine.IsFatal(runErr):
		log.Error("run failed with non-retryable error", "error", runErr.Error())
	default:
		nextRunAt = r.now().Add(desc.BaselineInterval / 2)
		log.Warn("run failed, will retry later",
			"error", runErr.Error(),
			"next_run_at", nextRunAt,
		)
	}

	report := &Report{
		RunID:     runID,
		SourceID:  desc.ID,
		Duration:  r.now().Sub(started),
		NextRunAt: nextRunAt,
	}
	return report, fmt.Errorf("collect %s: %w", desc.ID, runErr)
}

// nextRunAt asks the advisor for an adjusted interval, falling back to the
// source baseline when no advisor is wired.
func (r *Runner) nextRunAt(ctx context.Context, desc source.Descriptor, newItems int) time.Time {
	baseline := desc.BaselineInterval
	if baseline <= 0 {
		baseline = engine.DefaultBaselineInterval
	}
	if r.advisor == nil {
		return r.now().Add(baseline)
	}
	return r.now().Add(r.advisor.NextInterval(ctx, desc.ID, newItems, baseline))
}
