package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collectroute/internal/feed"
	"collectroute/internal/model"
	"collectroute/internal/stats"
	"collectroute/internal/store"
)

var t0 = time.Date(2024, 5, 6, 7, 30, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEngine(t *testing.T, s store.Store) (*Engine, *clock) {
	t.Helper()
	clk := &clock{now: t0}
	e := New(s, feed.NewMemory())
	e.Now = clk.Now
	var n atomic.Int64
	e.NewID = func() string { return fmt.Sprintf("id-%03d", n.Add(1)) }
	return e, clk
}

func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	sq, err := store.NewSQLite(filepath.Join(t.TempDir(), "lifecycle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	_, err = sq.Migrate(context.Background())
	require.NoError(t, err)
	return map[string]store.Store{"memory": store.NewMemory(), "sqlite": sq}
}

func eachBackend(t *testing.T, fn func(t *testing.T, e *Engine, clk *clock)) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			e, clk := newEngine(t, s)
			fn(t, e, clk)
		})
	}
}

func createRoute(t *testing.T, e *Engine, houses ...HouseInput) string {
	t.Helper()
	id, err := e.CreateRoute(context.Background(), CreateRouteInput{
		Name: "Elm street", TeamID: "team-1", DriverID: "drv-1", Date: t0,
		TotalHouses: len(houses), CreatorID: "admin", Houses: houses,
	})
	require.NoError(t, err)
	return id
}

func addHouse(t *testing.T, e *Engine, routeID string, order int) string {
	t.Helper()
	id, err := e.AddHouse(context.Background(), AddHouseInput{
		RouteID: routeID, ActorID: "admin",
		HouseInput: HouseInput{Address: fmt.Sprintf("%d Elm St", order), Lat: 40.0, Lng: -75.0, Order: order},
	})
	require.NoError(t, err)
	return id
}

func setHouse(t *testing.T, e *Engine, houseID string, status model.HouseStatus) model.House {
	t.Helper()
	h, err := e.UpdateHouseStatus(context.Background(), HouseStatusInput{HouseID: houseID, Status: string(status), ActorID: "drv-1"})
	require.NoError(t, err)
	return h
}

func setRoute(t *testing.T, e *Engine, routeID string, status model.RouteStatus) model.Route {
	t.Helper()
	r, err := e.UpdateRouteStatus(context.Background(), RouteStatusInput{RouteID: routeID, Status: string(status), ActorID: "drv-1"})
	require.NoError(t, err)
	return r
}

func actions(t *testing.T, e *Engine, routeID string) []model.HistoryAction {
	t.Helper()
	views, err := e.History(context.Background(), routeID, true)
	require.NoError(t, err)
	out := make([]model.HistoryAction, 0, len(views))
	for _, v := range views {
		out = append(out, v.Action)
	}
	return out
}

func TestCollectSkipAndNewCustomer(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		id := createRoute(t, e,
			HouseInput{Address: "1 Oak", Lat: 40, Lng: -75, Order: 1},
			HouseInput{Address: "2 Oak", Lat: 40, Lng: -75, Order: 2},
			HouseInput{Address: "3 Oak", Lat: 40, Lng: -75, Order: 3},
		)
		detail, err := e.GetRoute(ctx, id)
		require.NoError(t, err)
		require.Len(t, detail.Houses, 3)
		assert.Equal(t, 3, detail.TotalHouses)
		assert.Equal(t, model.RoutePending, detail.Status)

		clk.Advance(time.Minute)
		setHouse(t, e, detail.Houses[0].ID, model.HouseCollect)
		setHouse(t, e, detail.Houses[1].ID, model.HouseSkip)
		setHouse(t, e, detail.Houses[2].ID, model.HouseNewCustomer)
		r := setRoute(t, e, id, model.RouteCompleted)

		assert.Equal(t, 2, r.CompletedHouses)
		assert.Equal(t, 3, r.TotalHouses)
		assert.Equal(t, model.RouteCompleted, r.Status)
		require.NotNil(t, r.EndTime)
		assert.Nil(t, r.Duration, "no start time, no duration")

		assert.Equal(t, []model.HistoryAction{
			model.ActionCreated,
			model.ActionHouseCollected,
			model.ActionHouseSkipped,
			model.ActionHouseUpdated,
			model.ActionCompleted,
		}, actions(t, e, id))
	})
}

func TestDurationIsFlooredAndImmutable(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		id := createRoute(t, e)
		started := setRoute(t, e, id, model.RouteInProgress)
		require.NotNil(t, started.StartTime)
		assert.Equal(t, t0, *started.StartTime)

		clk.Advance(45*time.Minute + 59*time.Second)
		done := setRoute(t, e, id, model.RouteCompleted)
		require.NotNil(t, done.Duration)
		assert.Equal(t, 45, *done.Duration)
		end := *done.EndTime

		clk.Advance(time.Hour)
		resumed := setRoute(t, e, id, model.RouteInProgress)
		assert.Equal(t, t0, *resumed.StartTime, "start time is set once")
		clk.Advance(time.Hour)
		again := setRoute(t, e, id, model.RouteCompleted)
		assert.Equal(t, 45, *again.Duration)
		assert.Equal(t, end, *again.EndTime)
	})
}

func TestRouteActionMapping(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		id := createRoute(t, e)
		setRoute(t, e, id, model.RouteInProgress)
		setRoute(t, e, id, model.RoutePaused)
		setRoute(t, e, id, model.RouteInProgress)
		setRoute(t, e, id, model.RouteInProgress)
		setRoute(t, e, id, model.RouteCanceled)
		r := setRoute(t, e, id, "archived")
		assert.Equal(t, model.RouteStatus("archived"), r.Status)

		assert.Equal(t, []model.HistoryAction{
			model.ActionCreated,
			model.ActionStarted,
			model.ActionPaused,
			model.ActionStarted,
			model.ActionUpdated,
			model.ActionUpdated,
			model.ActionUpdated,
		}, actions(t, e, id))
	})
}

func TestHouseToggleCountsOnce(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		id := createRoute(t, e)
		h := addHouse(t, e, id, 1)
		addHouse(t, e, id, 2)

		for _, s := range []model.HouseStatus{model.HouseCollect, model.HouseSkip, model.HouseCollect} {
			clk.Advance(time.Second)
			setHouse(t, e, h, s)
		}
		r, err := e.Store.GetRoute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, r.CompletedHouses)
		assert.Equal(t, 2, r.TotalHouses)
		assert.Equal(t, []model.HistoryAction{
			model.ActionCreated,
			model.ActionHouseAdded,
			model.ActionHouseAdded,
			model.ActionHouseCollected,
			model.ActionHouseSkipped,
			model.ActionHouseCollected,
		}, actions(t, e, id))
	})
}

func TestSameHouseStatusIsIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		id := createRoute(t, e)
		h := addHouse(t, e, id, 1)
		setHouse(t, e, h, model.HouseCollect)
		before := len(actions(t, e, id))

		notes := "bin was already out"
		got, err := e.UpdateHouseStatus(ctx, HouseStatusInput{HouseID: h, Status: "COLLECT", ActorID: "drv-1", Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, notes, got.Notes)

		r, err := e.Store.GetRoute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, r.CompletedHouses)
		acts := actions(t, e, id)
		require.Len(t, acts, before+1)
		assert.Equal(t, model.ActionHouseUpdated, acts[len(acts)-1])
	})
}

func TestCompletedNeverExceedsTotal(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		id := createRoute(t, e)
		_, err := e.AddHouse(ctx, AddHouseInput{RouteID: id, ActorID: "admin",
			HouseInput: HouseInput{Address: "9 Pine", Lat: 1, Lng: 1, Order: 0, Status: "skip"}})
		require.NoError(t, err)
		h := addHouse(t, e, id, 1)
		setHouse(t, e, h, model.HouseCollect)

		r, err := e.Store.GetRoute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, r.TotalHouses)
		assert.Equal(t, 2, r.CompletedHouses)
	})
}

func TestConcurrentHouseUpdatesKeepCounterExact(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, _ *clock) {
		ctx := context.Background()
		id := createRoute(t, e)
		const houses, writers = 20, 2
		ids := make([]string, houses)
		for i := range ids {
			ids[i] = addHouse(t, e, id, i)
		}

		var wg sync.WaitGroup
		errs := make(chan error, houses*writers)
		for _, hid := range ids {
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(hid string) {
					defer wg.Done()
					_, err := e.UpdateHouseStatus(ctx, HouseStatusInput{HouseID: hid, Status: string(model.HouseCollect), ActorID: "drv-1"})
					errs <- err
				}(hid)
			}
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		d, err := e.GetRoute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, houses, d.TotalHouses)
		assert.Equal(t, houses, d.CompletedHouses)

		views, err := e.History(ctx, id, true)
		require.NoError(t, err)
		collected := map[string]int{}
		updates := 0
		for _, v := range views {
			switch v.Action {
			case model.ActionHouseCollected:
				collected[v.HouseID]++
			case model.ActionHouseUpdated:
				updates++
			}
		}
		assert.Len(t, collected, houses)
		for hid, n := range collected {
			assert.Equal(t, 1, n, hid)
		}
		assert.Equal(t, houses*(writers-1), updates)
	})
}

func TestHistoryHasOneEntryPerOperationInBothOrders(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		require.NoError(t, e.Store.UpsertUser(ctx, model.User{ID: "drv-1", DisplayName: "Dana Driver", TeamID: "team-1"}))

		id := createRoute(t, e)
		ops := 1
		h := addHouse(t, e, id, 1)
		ops++
		for _, s := range []model.RouteStatus{model.RouteInProgress, model.RoutePaused, model.RouteInProgress} {
			clk.Advance(time.Minute)
			setRoute(t, e, id, s)
			ops++
		}
		clk.Advance(time.Minute)
		setHouse(t, e, h, model.HouseCollect)
		ops++

		desc, err := e.History(ctx, id, false)
		require.NoError(t, err)
		asc, err := e.History(ctx, id, true)
		require.NoError(t, err)
		require.Len(t, desc, ops)
		require.Len(t, asc, ops)
		for i := range asc {
			assert.Equal(t, asc[i].ID, desc[len(desc)-1-i].ID)
		}
		assert.Equal(t, model.ActionHouseCollected, desc[0].Action)
		assert.Equal(t, model.ActionCreated, asc[0].Action)

		latest := desc[0]
		require.NotNil(t, latest.User)
		assert.Equal(t, "Dana Driver", latest.User.DisplayName)
		require.NotNil(t, latest.House)
		assert.Equal(t, "1 Elm St", latest.House.Address)
		require.NotNil(t, asc[0].User)
		assert.Equal(t, "admin", asc[0].User.ID)
		assert.Empty(t, asc[0].User.DisplayName)
	})
}

func TestHistoryOfUnknownRouteIsEmpty(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		views, err := e.History(context.Background(), "nope", false)
		require.NoError(t, err)
		assert.NotNil(t, views)
		assert.Empty(t, views)
	})
}

func TestFailedWritesLeaveNoTrace(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		_, err := e.CreateRoute(ctx, CreateRouteInput{
			Name: "Dup", TeamID: "team-9", Date: t0, CreatorID: "admin",
			Houses: []HouseInput{{Address: "a", Order: 1}, {Address: "b", Order: 1}},
		})
		require.True(t, errors.Is(err, model.ErrInvalidInput), "got %v", err)
		routes, err := e.Store.Snapshot(ctx, store.Filter{TeamID: "team-9"})
		require.NoError(t, err)
		assert.Empty(t, routes)

		id := createRoute(t, e)
		addHouse(t, e, id, 1)
		before := actions(t, e, id)

		_, err = e.AddHouse(ctx, AddHouseInput{RouteID: id, ActorID: "admin", HouseInput: HouseInput{Address: "x", Order: 1}})
		require.True(t, errors.Is(err, model.ErrInvalidInput), "got %v", err)

		r, err := e.Store.GetRoute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, r.TotalHouses)
		assert.Equal(t, before, actions(t, e, id))
	})
}

func TestInputErrors(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		id := createRoute(t, e)

		_, err := e.AddHouse(ctx, AddHouseInput{RouteID: id, ActorID: "a", HouseInput: HouseInput{Address: "x", Lat: 91}})
		assert.True(t, errors.Is(err, model.ErrInvalidInput), "lat: %v", err)
		_, err = e.AddHouse(ctx, AddHouseInput{RouteID: id, ActorID: "a", HouseInput: HouseInput{Address: "x", Lng: -181}})
		assert.True(t, errors.Is(err, model.ErrInvalidInput), "lng: %v", err)
		_, err = e.AddHouse(ctx, AddHouseInput{RouteID: id, ActorID: "a", HouseInput: HouseInput{Address: "x", Order: -1}})
		assert.True(t, errors.Is(err, model.ErrInvalidInput), "order: %v", err)
		_, err = e.AddHouse(ctx, AddHouseInput{RouteID: "missing", ActorID: "a", HouseInput: HouseInput{Address: "x"}})
		assert.True(t, errors.Is(err, model.ErrNotFound), "route: %v", err)

		_, err = e.CreateRoute(ctx, CreateRouteInput{Name: "n", TeamID: "t", Date: t0, CreatorID: "c", TotalHouses: -1})
		assert.True(t, errors.Is(err, model.ErrInvalidInput))
		_, err = e.CreateRoute(ctx, CreateRouteInput{Name: "n", TeamID: "t", CreatorID: "c"})
		assert.True(t, errors.Is(err, model.ErrInvalidInput))

		_, err = e.UpdateHouseStatus(ctx, HouseStatusInput{HouseID: "missing", Status: "collect", ActorID: "a"})
		assert.True(t, errors.Is(err, model.ErrNotFound))
		_, err = e.UpdateRouteStatus(ctx, RouteStatusInput{RouteID: "missing", Status: "paused", ActorID: "a"})
		assert.True(t, errors.Is(err, model.ErrNotFound))
		_, err = e.UpdateRouteStatus(ctx, RouteStatusInput{RouteID: id, Status: " ", ActorID: "a"})
		assert.True(t, errors.Is(err, model.ErrInvalidInput))
	})
}

func TestExpectVersionConflict(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		id := createRoute(t, e)
		r, err := e.Store.GetRoute(ctx, id)
		require.NoError(t, err)

		setRoute(t, e, id, model.RouteInProgress)
		_, err = e.UpdateRouteStatus(ctx, RouteStatusInput{RouteID: id, Status: "paused", ActorID: "a", ExpectVersion: r.Version})
		assert.True(t, errors.Is(err, model.ErrConflict), "got %v", err)

		cur, err := e.Store.GetRoute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.RouteInProgress, cur.Status)
		paused, err := e.UpdateRouteStatus(ctx, RouteStatusInput{RouteID: id, Status: "paused", ActorID: "a", ExpectVersion: cur.Version})
		require.NoError(t, err)
		assert.Equal(t, cur.Version+1, paused.Version)
	})
}

func TestAutoStartOnFirstHouseUpdate(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		e.AutoStart = true
		id := createRoute(t, e)
		h := addHouse(t, e, id, 1)

		clk.Advance(time.Minute)
		setHouse(t, e, h, model.HouseCollect)
		r, err := e.Store.GetRoute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.RouteInProgress, r.Status)
		require.NotNil(t, r.StartTime)
		assert.Equal(t, t0.Add(time.Minute), *r.StartTime)
		assert.Equal(t, []model.HistoryAction{
			model.ActionCreated, model.ActionHouseAdded, model.ActionStarted, model.ActionHouseCollected,
		}, actions(t, e, id))
	})
}

func TestTeamAndUserStats(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *Engine, clk *clock) {
		ctx := context.Background()
		ids := make([]string, 4)
		for i := range ids {
			ids[i] = createRoute(t, e)
		}
		setRoute(t, e, ids[0], model.RouteInProgress)
		setRoute(t, e, ids[1], model.RouteCompleted)
		setRoute(t, e, ids[2], model.RouteCompleted)

		s, err := e.TeamStats(ctx, "team-1", stats.ScopeCompleted)
		require.NoError(t, err)
		assert.Equal(t, 4, s.TotalRoutes)
		assert.Equal(t, 1, s.ActiveRoutes)
		assert.Equal(t, 2, s.CompletedRoutes)
		assert.Equal(t, 1, s.PendingRoutes)

		u, err := e.UserStats(ctx, "drv-1", stats.ScopeAll)
		require.NoError(t, err)
		assert.Equal(t, 4, u.TotalRoutes)

		empty, err := e.TeamStats(ctx, "team-none", stats.ScopeCompleted)
		require.NoError(t, err)
		assert.Equal(t, stats.Summary{Scope: stats.ScopeCompleted}, empty)
	})
}

func TestOnRouteChangedStopsAfterCancel(t *testing.T) {
	e, _ := newEngine(t, store.NewMemory())
	ctx := context.Background()
	id := createRoute(t, e)

	var mu sync.Mutex
	var got []model.RouteChange
	cancel := e.OnRouteChanged(ctx, id, func(c model.RouteChange) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	setRoute(t, e, id, model.RouteInProgress)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	setRoute(t, e, id, model.RoutePaused)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, model.ChangeRouteStatus, got[0].Kind)
	assert.Equal(t, model.ActionStarted, got[0].Action)
	require.NotNil(t, got[0].Route)
	assert.Equal(t, model.RouteInProgress, got[0].Route.Status)
	assert.Equal(t, 0, e.Feed.(*feed.Memory).Subscribers(id))
}

func TestOnRouteChangedEndsWithContext(t *testing.T) {
	e, _ := newEngine(t, store.NewMemory())
	id := createRoute(t, e)
	ctx, stop := context.WithCancel(context.Background())
	cancel := e.OnRouteChanged(ctx, id, func(model.RouteChange) {})
	assert.Equal(t, 1, e.Feed.(*feed.Memory).Subscribers(id))
	stop()
	assert.Eventually(t, func() bool { return e.Feed.(*feed.Memory).Subscribers(id) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
}
