package collector

import (
	"context"
	"fmt"

	"github.com/buremba/owletto-crawlers/internal/domain"
)

// MultiSink fans one run's delivery out to several sinks in order. Delivery
// stops at the first failing sink.
type MultiSink []Sink

// Deliver implements Sink.
func (m MultiSink) Deliver(ctx context.Context, result *domain.CollectionResult) error {
	for i, sink := range m {
		if err := sink.Deliver(ctx, result); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}
