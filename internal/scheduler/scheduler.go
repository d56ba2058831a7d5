// Package scheduler runs registered sources on their recommended cadence.
// A periodic sweep starts a run for every source whose next-run time has
// passed; the time itself comes from each run's report, so rate-limit
// backoff and adaptive pacing feed straight into scheduling.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/buremba/owletto-crawlers/internal/collector"
	"github.com/buremba/owletto-crawlers/internal/logger"
	"github.com/buremba/owletto-crawlers/internal/source"
)

// DefaultSweepSpec is the cadence at which due sources are checked.
const DefaultSweepSpec = "@every 1m"

// RunExecutor executes one collection run. Satisfied by collector.Runner.
type RunExecutor interface {
	Collect(ctx context.Context, src source.Source) (*collector.Report, error)
}

// Scheduler sweeps the registry and runs due sources. Each source runs at
// most once concurrently; distinct sources may overlap.
type Scheduler struct {
	registry  *collector.Registry
	runner    RunExecutor
	sweepSpec string
	logger    logger.Interface

	cron *cron.Cron
	wg   sync.WaitGroup

	mu      sync.Mutex
	nextRun map[string]time.Time
	running map[string]bool
}

// New creates a scheduler over the registered sources.
func New(registry *collector.Registry, runner RunExecutor, sweepSpec string, log logger.Interface) *Scheduler {
	if sweepSpec == "" {
		sweepSpec = DefaultSweepSpec
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Scheduler{
		registry:  registry,
		runner:    runner,
		sweepSpec: sweepSpec,
		logger:    log,
		nextRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
	}
}

// Start begins periodic sweeping. The first sweep happens immediately, so a
// fresh deployment collects without waiting a full sweep interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.sweepSpec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("register sweep schedule %q: %w", s.sweepSpec, err)
	}

	s.logger.Info("scheduler starting",
		"sweep", s.sweepSpec,
		"sources", len(s.registry.IDs()),
	)
	s.Sweep(ctx)
	s.cron.Start()
	return nil
}

// Stop halts sweeping and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Sweep starts a run for every source that is due. Runs execute in their
// own goroutines so one slow source cannot starve the rest.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now()

	for _, id := range s.registry.IDs() {
		if !s.claim(id, now) {
			continue
		}

		src, ok := s.registry.Get(id)
		if !ok {
			s.release(id, now.Add(time.Hour))
			continue
		}

		s.wg.Add(1)
		go func(id string, src source.Source) {
			defer s.wg.Done()
			s.collectOne(ctx, id, src)
		}(id, src)
	}
}

// TriggerNow runs one source immediately, bypassing its schedule. Returns an
// error if the source is unknown or already running.
func (s *Scheduler) TriggerNow(ctx context.Context, sourceID string) (*collector.Report, error) {
	src, ok := s.registry.Get(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", source.ErrUnknownKind, sourceID)
	}

	s.mu.Lock()
	if s.running[sourceID] {
		s.mu.Unlock()
		return nil, fmt.Errorf("source %q is already running", sourceID)
	}
	s.running[sourceID] = true
	s.mu.Unlock()

	return s.collectOne(ctx, sourceID, src)
}

// NextRunAt returns the scheduled next run time for a source, if known.
func (s *Scheduler) NextRunAt(sourceID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.nextRun[sourceID]
	return at, ok
}

// collectOne executes one run and folds its report back into the schedule.
// A failed run still reschedules: its report carries the backoff time.
func (s *Scheduler) collectOne(ctx context.Context, id string, src source.Source) (*collector.Report, error) {
	report, err := s.runner.Collect(ctx, src)

	next := time.Now().Add(src.Descriptor().BaselineInterval)
	if report != nil {
		s.registry.RecordReport(report)
		if !report.NextRunAt.IsZero() {
			next = report.NextRunAt
		}
	}
	s.release(id, next)

	if err != nil {
		s.logger.Warn("scheduled run failed",
			"source_id", id,
			"error", err.Error(),
			"next_run_at", next,
		)
		return report, err
	}
	return report, nil
}

// claim marks a source as running if it is due and not already running.
func (s *Scheduler) claim(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[id] {
		return false
	}
	if at, ok := s.nextRun[id]; ok && now.Before(at) {
		return false
	}
	s.running[id] = true
	return true
}

// release clears the running flag and records the next run time.
func (s *Scheduler) release(id string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
	s.nextRun[id] = next
}
