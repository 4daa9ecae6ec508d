// Package stats derives team, driver and route performance figures from a snapshot of routes.
// Everything here is a pure function of its inputs.
package stats

import (
	"fmt"
	"math"
	"strings"
	"time"

	"collectroute/internal/model"
)

// Scope selects which routes contribute to the house totals.
type Scope string

const (
	// ScopeCompleted sums houses over completed routes only.
	ScopeCompleted Scope = "completed"
	// ScopeAll sums houses over every route in the snapshot.
	ScopeAll Scope = "all"
)

// ParseScope accepts "completed", "all" or empty (completed).
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeCompleted:
		return ScopeCompleted, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", fmt.Errorf("%w: unknown house scope %q", model.ErrInvalidInput, s)
}

// Reference pace for the speed component of the efficiency score.
const referenceHousesPerHour = 60.0

const (
	completionWeight = 0.6
	speedWeight      = 0.4
)

type Options struct {
	Now        time.Time
	HouseScope Scope
}

// Summary is the aggregate view returned for team and user stats.
type Summary struct {
	Scope               Scope   `json:"scope" yaml:"scope"`
	TotalRoutes         int     `json:"totalRoutes" yaml:"totalRoutes"`
	ActiveRoutes        int     `json:"activeRoutes" yaml:"activeRoutes"`
	CompletedRoutes     int     `json:"completedRoutes" yaml:"completedRoutes"`
	PendingRoutes       int     `json:"pendingRoutes" yaml:"pendingRoutes"`
	PausedRoutes        int     `json:"pausedRoutes" yaml:"pausedRoutes"`
	CanceledRoutes      int     `json:"canceledRoutes" yaml:"canceledRoutes"`
	TotalHouses         int     `json:"totalHouses" yaml:"totalHouses"`
	CompletedHouses     int     `json:"completedHouses" yaml:"completedHouses"`
	HouseCompletionRate float64 `json:"houseCompletionRate" yaml:"houseCompletionRate"`
	TotalHoursDriven    float64 `json:"totalHoursDriven" yaml:"totalHoursDriven"`
	HousesPerHour       float64 `json:"housesPerHour" yaml:"housesPerHour"`
	AverageDuration     float64 `json:"averageDuration" yaml:"averageDuration"`
	ScheduledRoutes     int     `json:"scheduledRoutes" yaml:"scheduledRoutes"`
	CompletionRate      float64 `json:"completionRate" yaml:"completionRate"`
	ExpiredRoutes       int     `json:"expiredRoutes" yaml:"expiredRoutes"`
	Efficiency          float64 `json:"efficiency" yaml:"efficiency"`
}

// Compute aggregates routes. An empty slice yields a zero-valued Summary.
func Compute(routes []model.Route, opt Options) Summary {
	scope := opt.HouseScope
	if scope == "" {
		scope = ScopeCompleted
	}
	today := model.DayOf(opt.Now)
	s := Summary{Scope: scope}

	var (
		minutes, timed       int
		effSum               float64
		effN                 int
		scheduledAndComplete int
	)
	for _, r := range routes {
		s.TotalRoutes++
		completed := r.Status == model.RouteCompleted
		switch r.Status {
		case model.RouteInProgress:
			s.ActiveRoutes++
		case model.RouteCompleted:
			s.CompletedRoutes++
		case model.RoutePending:
			s.PendingRoutes++
		case model.RoutePaused:
			s.PausedRoutes++
		case model.RouteCanceled:
			s.CanceledRoutes++
		}

		if scope == ScopeAll || completed {
			s.TotalHouses += r.TotalHouses
			s.CompletedHouses += r.CompletedHouses
		}
		if completed && r.Duration != nil {
			minutes += *r.Duration
			timed++
		}
		if completed {
			if e, ok := RouteEfficiency(r); ok {
				effSum += e
				effN++
			}
		}

		day := model.DayOf(r.Date)
		if !day.After(today) {
			s.ScheduledRoutes++
			if completed {
				scheduledAndComplete++
			}
		}
		if day.Before(today) && !completed {
			s.ExpiredRoutes++
		}
	}

	if s.TotalHouses > 0 {
		s.HouseCompletionRate = round2(float64(s.CompletedHouses) / float64(s.TotalHouses))
	}
	s.TotalHoursDriven = round1(float64(minutes) / 60)
	if s.TotalHoursDriven > 0 {
		s.HousesPerHour = round2(float64(s.CompletedHouses) / s.TotalHoursDriven)
	}
	if timed > 0 {
		s.AverageDuration = round2(float64(minutes) / float64(timed))
	}
	if s.ScheduledRoutes > 0 {
		s.CompletionRate = round2(float64(scheduledAndComplete) / float64(s.ScheduledRoutes) * 100)
	}
	if effN > 0 {
		s.Efficiency = round2(effSum / float64(effN))
	}
	return s
}

// RouteEfficiency blends the house completion fraction with pace against 60 houses/hour.
// The speed term is not capped, so a fast route can score above 100. ok is false when the
// route has no houses or no positive duration.
func RouteEfficiency(r model.Route) (score float64, ok bool) {
	if r.TotalHouses <= 0 || r.Duration == nil || *r.Duration <= 0 {
		return 0, false
	}
	completion := float64(r.CompletedHouses) / float64(r.TotalHouses)
	hours := float64(*r.Duration) / 60
	speed := (float64(r.CompletedHouses) / hours) / referenceHousesPerHour
	return (completionWeight*completion + speedWeight*speed) * 100, true
}

// RouteSummary is the single-route view.
type RouteSummary struct {
	RouteID             string   `json:"routeId"`
	Status              string   `json:"status"`
	TotalHouses         int      `json:"totalHouses"`
	CompletedHouses     int      `json:"completedHouses"`
	HouseCompletionRate float64  `json:"houseCompletionRate"`
	HoursDriven         float64  `json:"hoursDriven"`
	HousesPerHour       float64  `json:"housesPerHour"`
	Efficiency          *float64 `json:"efficiency,omitempty"`
}

func ForRoute(r model.Route) RouteSummary {
	out := RouteSummary{
		RouteID:         r.ID,
		Status:          string(r.Status),
		TotalHouses:     r.TotalHouses,
		CompletedHouses: r.CompletedHouses,
	}
	if r.TotalHouses > 0 {
		out.HouseCompletionRate = round2(float64(r.CompletedHouses) / float64(r.TotalHouses))
	}
	if r.Duration != nil {
		out.HoursDriven = round1(float64(*r.Duration) / 60)
		if out.HoursDriven > 0 {
			out.HousesPerHour = round2(float64(r.CompletedHouses) / out.HoursDriven)
		}
	}
	if r.Status == model.RouteCompleted {
		if e, ok := RouteEfficiency(r); ok {
			v := round2(e)
			out.Efficiency = &v
		}
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
