package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collectroute/internal/model"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func day(d int) time.Time { return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC) }

func minutes(v int) *int { return &v }

func route(id string, status model.RouteStatus, date time.Time, total, done int, dur *int) model.Route {
	return model.Route{ID: id, Status: status, Date: date, TotalHouses: total, CompletedHouses: done, Duration: dur}
}

func fixture() []model.Route {
	return []model.Route{
		route("a", model.RouteCompleted, day(8), 10, 8, minutes(90)),
		route("b", model.RouteCompleted, day(9), 5, 5, minutes(30)),
		route("c", model.RoutePending, day(12), 20, 0, nil),
		route("d", model.RouteInProgress, day(9), 4, 2, nil),
	}
}

func TestComputeCompletedScope(t *testing.T) {
	s := Compute(fixture(), Options{Now: now, HouseScope: ScopeCompleted})

	assert.Equal(t, 4, s.TotalRoutes)
	assert.Equal(t, 1, s.ActiveRoutes)
	assert.Equal(t, 2, s.CompletedRoutes)
	assert.Equal(t, 1, s.PendingRoutes)
	assert.Equal(t, 15, s.TotalHouses)
	assert.Equal(t, 13, s.CompletedHouses)
	assert.Equal(t, 0.87, s.HouseCompletionRate)
	assert.Equal(t, 2.0, s.TotalHoursDriven)
	assert.Equal(t, 6.5, s.HousesPerHour)
	assert.Equal(t, 60.0, s.AverageDuration)
	assert.Equal(t, 3, s.ScheduledRoutes)
	assert.Equal(t, 66.67, s.CompletionRate)
	assert.Equal(t, 1, s.ExpiredRoutes)
	assert.Equal(t, 59.11, s.Efficiency)
}

func TestComputeAllScopeDiffersOnlyInHouseTotals(t *testing.T) {
	c := Compute(fixture(), Options{Now: now, HouseScope: ScopeCompleted})
	a := Compute(fixture(), Options{Now: now, HouseScope: ScopeAll})

	assert.Equal(t, ScopeAll, a.Scope)
	assert.Equal(t, 39, a.TotalHouses)
	assert.Equal(t, 15, a.CompletedHouses)
	assert.Equal(t, 0.38, a.HouseCompletionRate)
	assert.Equal(t, 7.5, a.HousesPerHour)

	assert.Equal(t, c.TotalHoursDriven, a.TotalHoursDriven)
	assert.Equal(t, c.Efficiency, a.Efficiency)
	assert.Equal(t, c.CompletionRate, a.CompletionRate)
}

func TestTeamStatusCounts(t *testing.T) {
	routes := []model.Route{
		route("1", model.RouteInProgress, day(10), 3, 1, nil),
		route("2", model.RouteCompleted, day(10), 3, 3, minutes(30)),
		route("3", model.RouteCompleted, day(10), 3, 2, minutes(30)),
		route("4", model.RoutePending, day(10), 3, 0, nil),
	}
	s := Compute(routes, Options{Now: now})
	assert.Equal(t, 4, s.TotalRoutes)
	assert.Equal(t, 1, s.ActiveRoutes)
	assert.Equal(t, 2, s.CompletedRoutes)
	assert.Equal(t, 1, s.PendingRoutes)
	assert.Equal(t, ScopeCompleted, s.Scope)
}

func TestRouteEfficiencyReferencePace(t *testing.T) {
	e, ok := RouteEfficiency(route("x", model.RouteCompleted, day(1), 10, 10, minutes(10)))
	require.True(t, ok)
	assert.InDelta(t, 100.0, e, 1e-9)
	assert.Equal(t, 100.0, round2(e))
}

func TestRouteEfficiencyIsUncapped(t *testing.T) {
	e, ok := RouteEfficiency(route("x", model.RouteCompleted, day(1), 10, 10, minutes(5)))
	require.True(t, ok)
	assert.InDelta(t, 140.0, e, 1e-9)

	s := Compute([]model.Route{route("x", model.RouteCompleted, day(1), 10, 10, minutes(5))}, Options{Now: now})
	assert.Equal(t, 140.0, s.Efficiency)
}

func TestRouteEfficiencySkipsUntimedRoutes(t *testing.T) {
	_, ok := RouteEfficiency(route("x", model.RouteCompleted, day(1), 10, 5, nil))
	assert.False(t, ok)
	_, ok = RouteEfficiency(route("x", model.RouteCompleted, day(1), 0, 0, minutes(30)))
	assert.False(t, ok)
	_, ok = RouteEfficiency(route("x", model.RouteCompleted, day(1), 10, 0, minutes(0)))
	assert.False(t, ok)
}

func TestHousesPerHourUsesRoundedHours(t *testing.T) {
	routes := []model.Route{
		route("a", model.RouteCompleted, day(1), 2, 2, minutes(20)),
		route("b", model.RouteCompleted, day(1), 1, 1, minutes(25)),
	}
	s := Compute(routes, Options{Now: now})
	assert.Equal(t, 0.8, s.TotalHoursDriven)
	assert.Equal(t, 3.75, s.HousesPerHour)
}

func TestEmptySnapshotIsZero(t *testing.T) {
	s := Compute(nil, Options{Now: now, HouseScope: ScopeAll})
	assert.Equal(t, Summary{Scope: ScopeAll}, s)
}

func TestTodayIsScheduledButNotExpired(t *testing.T) {
	s := Compute([]model.Route{route("t", model.RoutePending, day(10), 1, 0, nil)}, Options{Now: now})
	assert.Equal(t, 1, s.ScheduledRoutes)
	assert.Equal(t, 0, s.ExpiredRoutes)
	assert.Equal(t, 0.0, s.CompletionRate)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeCompleted, s)
	s, err = ParseScope("ALL")
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, s)
	_, err = ParseScope("weekly")
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestForRoute(t *testing.T) {
	v := ForRoute(route("x", model.RouteCompleted, day(1), 10, 10, minutes(10)))
	require.NotNil(t, v.Efficiency)
	assert.Equal(t, 100.0, *v.Efficiency)
	assert.Equal(t, 0.2, v.HoursDriven)
	assert.Equal(t, 50.0, v.HousesPerHour)

	open := ForRoute(route("y", model.RouteInProgress, day(1), 4, 1, nil))
	assert.Nil(t, open.Efficiency)
	assert.Equal(t, 0.25, open.HouseCompletionRate)
}
