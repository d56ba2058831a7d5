// Package cache stores run pacing state in Redis: sources that keep coming
// back empty are backed off exponentially, productive sources return to
// their baseline interval.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buremba/owletto-crawlers/internal/logger"
)

// ErrStateNotFound is returned when no pacing state exists for a source.
var ErrStateNotFound = errors.New("pacing state not found")

// Adaptive pacing constants.
const (
	// MaxAdaptiveInterval is the maximum delay between runs regardless of
	// backoff.
	MaxAdaptiveInterval = 24 * time.Hour
	// keyPrefix is the Redis key prefix for pacing state.
	keyPrefix = "collector:pace:"
	// exponentialBase is the base for exponential backoff calculation.
	exponentialBase = 2.0
)

// PaceState holds the adaptive pacing state for a source.
type PaceState struct {
	LastProductiveAt time.Time     `json:"last_productive_at"`
	DryRunCount      int           `json:"dry_run_count"`
	CurrentInterval  time.Duration `json:"current_interval"`
}

// CalculateAdaptiveInterval computes the next run interval from the number
// of consecutive runs that found nothing.
// Formula: baseline * 2^(dryRunCount), capped at maxInterval.
func CalculateAdaptiveInterval(
	baseline, maxInterval time.Duration,
	dryRunCount int,
) time.Duration {
	if dryRunCount <= 0 {
		return baseline
	}

	multiplier := math.Pow(exponentialBase, float64(dryRunCount))
	interval := time.Duration(float64(baseline) * multiplier)

	if interval > maxInterval {
		return maxInterval
	}

	return interval
}

// Advance applies one run's outcome to the pacing state and returns the
// interval before the next run.
func Advance(state *PaceState, newItems int, baseline time.Duration) time.Duration {
	if newItems > 0 {
		state.LastProductiveAt = time.Now()
		state.DryRunCount = 0
		state.CurrentInterval = baseline
		return baseline
	}

	state.DryRunCount++
	state.CurrentInterval = CalculateAdaptiveInterval(
		baseline, MaxAdaptiveInterval, state.DryRunCount,
	)
	return state.CurrentInterval
}

// Pacer stores per-source pacing state in Redis.
type Pacer struct {
	client *redis.Client
	logger logger.Interface
}

// NewPacer creates a new pacer.
func NewPacer(client *redis.Client, log logger.Interface) *Pacer {
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Pacer{client: client, logger: log}
}

// NextInterval records one run's outcome and returns the delay before the
// source's next run. Redis being unavailable degrades to the baseline
// interval rather than failing the run.
func (p *Pacer) NextInterval(
	ctx context.Context,
	sourceID string,
	newItems int,
	baseline time.Duration,
) time.Duration {
	state, err := p.loadState(ctx, sourceID)
	if err != nil {
		p.logger.Warn("loading pacing state failed, using baseline",
			"source_id", sourceID,
			"error", err.Error(),
		)
		return baseline
	}

	interval := Advance(state, newItems, baseline)

	if saveErr := p.saveState(ctx, sourceID, state); saveErr != nil {
		p.logger.Warn("saving pacing state failed",
			"source_id", sourceID,
			"error", saveErr.Error(),
		)
	}

	return interval
}

// State retrieves the current pacing state for a source.
func (p *Pacer) State(ctx context.Context, sourceID string) (*PaceState, error) {
	data, err := p.client.Get(ctx, keyPrefix+sourceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pacing state: %w", err)
	}

	var state PaceState
	if unmarshalErr := json.Unmarshal(data, &state); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal pacing state: %w", unmarshalErr)
	}

	return &state, nil
}

// loadState retrieves existing pacing state from Redis, or a zero-value
// state if none exists.
func (p *Pacer) loadState(ctx context.Context, sourceID string) (*PaceState, error) {
	var state PaceState

	data, err := p.client.Get(ctx, keyPrefix+sourceID).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get pacing state: %w", err)
	}

	if err == nil {
		if unmarshalErr := json.Unmarshal(data, &state); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to unmarshal pacing state: %w", unmarshalErr)
		}
	}

	return &state, nil
}

// saveState persists the pacing state to Redis.
func (p *Pacer) saveState(ctx context.Context, sourceID string, state *PaceState) error {
	stateBytes, marshalErr := json.Marshal(state)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal pacing state: %w", marshalErr)
	}

	if setErr := p.client.Set(ctx, keyPrefix+sourceID, stateBytes, 0).Err(); setErr != nil {
		return fmt.Errorf("failed to set pacing state: %w", setErr)
	}

	return nil
}
