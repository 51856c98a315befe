package sink

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

// MultiSink fans a report out to several sinks concurrently.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Send delivers to every sink and fails if any of them failed. Sinks that succeeded are
// not rolled back, so a retry may deliver to them again.
func (m *MultiSink) Send(ctx context.Context, r types.ApiErrorReport) error {
	var g errgroup.Group
	for i, s := range m.sinks {
		i, s := i, s
		g.Go(func() error {
			if err := s.Send(ctx, r); err != nil {
				return fmt.Errorf("sink %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
