package geofence

import (
	"context"
	"errors"
	"sync"

	"collectroute/internal/metrics"
	"collectroute/internal/model"
)

// ErrPermissionUnavailable is returned by Start when location access has not been granted.
var ErrPermissionUnavailable = model.ErrPermissionUnavailable

var errAlreadyRunning = errors.New("geofence: monitor already running")

// Monitor converts a stream of position samples into proximity events for one route.
type Monitor struct {
	perm *Permission
	sink Sink

	mu      sync.Mutex
	tr      *tracker
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMonitor(routeID string, cfg Config, perm *Permission, houses []model.House, sink Sink) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = Multi(nil)
	}
	return &Monitor{perm: perm, sink: sink, tr: newTracker(routeID, cfg, houses)}, nil
}

// Start consumes samples until ctx is done, the channel closes, or Stop is called.
// Without permission it returns ErrPermissionUnavailable and the monitor stays idle;
// the caller may Start again once permission changes.
func (m *Monitor) Start(ctx context.Context, samples <-chan Sample) error {
	if !m.perm.Allowed() {
		return ErrPermissionUnavailable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return errors.New("geofence: monitor stopped")
	}
	if m.running {
		return errAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	metrics.ActiveMonitors.Inc()
	go m.run(ctx, samples)
	return nil
}

func (m *Monitor) run(ctx context.Context, samples <-chan Sample) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		metrics.ActiveMonitors.Dec()
		m.wg.Done()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			m.process(ctx, s)
		}
	}
}

// Process applies one sample synchronously and returns the events it emitted.
func (m *Monitor) Process(ctx context.Context, s Sample) []Event {
	return m.process(ctx, s)
}

func (m *Monitor) process(ctx context.Context, s Sample) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || !m.perm.Allowed() {
		return nil
	}
	evs := m.tr.step(s)
	for _, e := range evs {
		m.sink.Emit(ctx, e)
	}
	return evs
}

// SetHouses replaces the monitored houses, e.g. after a house is collected or skipped.
func (m *Monitor) SetHouses(houses []model.House) {
	m.mu.Lock()
	m.tr.setHouses(houses)
	m.mu.Unlock()
}

// Zone reports the current band for a house.
func (m *Monitor) Zone(houseID string) Zone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr.zone(houseID)
}

// Stop halts the monitor. When it returns no further sample is processed and no event
// is emitted. It is safe to call more than once and before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}
