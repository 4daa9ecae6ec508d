package geofence

import (
	"errors"
	"time"

	"collectroute/internal/model"
)

// Zone is the proximity band a house is currently in, as seen from the device.
type Zone string

const (
	Far         Zone = "FAR"
	Approaching Zone = "APPROACHING"
	Near        Zone = "NEAR"
)

func (z Zone) rank() int {
	switch z {
	case Near:
		return 2
	case Approaching:
		return 1
	}
	return 0
}

// Config holds the band thresholds in meters. A house leaves its band only once the
// device is farther than ResetMeters.
type Config struct {
	NearMeters        float64 `mapstructure:"near_m"`
	ApproachMeters    float64 `mapstructure:"approach_m"`
	ResetMeters       float64 `mapstructure:"reset_m"`
	MaxAccuracyMeters float64 `mapstructure:"max_accuracy_m"` // 0 accepts any reported accuracy
}

func DefaultConfig() Config {
	return Config{NearMeters: 50, ApproachMeters: 250, ResetMeters: 375}
}

func (c Config) Validate() error {
	if c.NearMeters <= 0 || c.ApproachMeters <= c.NearMeters || c.ResetMeters <= c.ApproachMeters {
		return errors.New("geofence: thresholds must satisfy 0 < near < approach < reset")
	}
	if c.MaxAccuracyMeters < 0 {
		return errors.New("geofence: max accuracy must be >= 0")
	}
	return nil
}

// Sample is one position fix delivered by the location source.
type Sample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

// Event is emitted once per zone entry.
type Event struct {
	RouteID        string    `json:"routeId"`
	HouseID        string    `json:"houseId"`
	Address        string    `json:"address,omitempty"`
	State          Zone      `json:"proximityState"`
	DistanceMeters float64   `json:"distanceMeters"`
	At             time.Time `json:"at"`
}

// tracker is the per-house zone state machine. It is not safe for concurrent use.
type tracker struct {
	cfg     Config
	routeID string
	houses  []model.House
	zones   map[string]Zone
}

func newTracker(routeID string, cfg Config, houses []model.House) *tracker {
	t := &tracker{cfg: cfg, routeID: routeID, zones: map[string]Zone{}}
	t.setHouses(houses)
	return t
}

// setHouses replaces the monitored set. Resolved houses are dropped along with their state.
func (t *tracker) setHouses(houses []model.House) {
	keep := make([]model.House, 0, len(houses))
	ids := make(map[string]struct{}, len(houses))
	for _, h := range houses {
		if h.Status.Terminal() {
			continue
		}
		keep = append(keep, h)
		ids[h.ID] = struct{}{}
	}
	for id := range t.zones {
		if _, ok := ids[id]; !ok {
			delete(t.zones, id)
		}
	}
	t.houses = keep
}

func (t *tracker) step(s Sample) []Event {
	if t.cfg.MaxAccuracyMeters > 0 && s.Accuracy != nil && *s.Accuracy > t.cfg.MaxAccuracyMeters {
		return nil
	}
	at := s.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var out []Event
	for _, h := range t.houses {
		d := Distance(s.Lat, s.Lng, h.Latitude, h.Longitude)
		cur, ok := t.zones[h.ID]
		if !ok {
			cur = Far
		}
		next := cur
		switch {
		case d <= t.cfg.NearMeters:
			next = Near
		case d <= t.cfg.ApproachMeters:
			if cur == Far {
				next = Approaching
			}
		case d > t.cfg.ResetMeters:
			next = Far
		}
		t.zones[h.ID] = next
		if next.rank() > cur.rank() {
			out = append(out, Event{RouteID: t.routeID, HouseID: h.ID, Address: h.Address, State: next, DistanceMeters: d, At: at})
		}
	}
	return out
}

func (t *tracker) zone(houseID string) Zone {
	if z, ok := t.zones[houseID]; ok {
		return z
	}
	return Far
}
