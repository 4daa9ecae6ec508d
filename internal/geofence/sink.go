package geofence

import (
	"context"

	"collectroute/internal/metrics"
)

// Sink receives proximity events. Emit is called from the monitor's goroutine while it
// holds its lock, so implementations must not call back into the Monitor.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// MetricsSink counts events per state.
var MetricsSink = SinkFunc(func(_ context.Context, e Event) {
	metrics.ProximityEvents.WithLabelValues(string(e.State)).Inc()
})
