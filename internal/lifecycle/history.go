package lifecycle

import (
	"context"
	"sync"
	"time"

	"collectroute/internal/model"
	"collectroute/internal/stats"
	"collectroute/internal/store"
)

// recordRoute appends a route-level entry. It only exists inside a transaction.
func recordRoute(ctx context.Context, tx store.Tx, id string, r model.Route, userID string, action model.HistoryAction, notes string, at time.Time) error {
	return tx.AppendHistory(ctx, model.HistoryEntry{
		ID:        id,
		RouteID:   r.ID,
		UserID:    userID,
		TeamID:    r.TeamID,
		Action:    action,
		Timestamp: at,
		Notes:     notes,
	})
}

func recordHouse(ctx context.Context, tx store.Tx, id string, h model.House, userID string, action model.HistoryAction, notes string, at time.Time) error {
	return tx.AppendHistory(ctx, model.HistoryEntry{
		ID:        id,
		RouteID:   h.RouteID,
		UserID:    userID,
		TeamID:    h.TeamID,
		HouseID:   h.ID,
		Action:    action,
		Timestamp: at,
		Notes:     notes,
	})
}

// History returns the route's entries newest-first, or oldest-first when ascending is set,
// joined with user and house summaries. An unknown route has no history.
func (e *Engine) History(ctx context.Context, routeID string, ascending bool) ([]model.HistoryView, error) {
	entries, err := e.Store.ListHistory(ctx, routeID, ascending)
	if err != nil {
		return nil, err
	}
	out := make([]model.HistoryView, 0, len(entries))
	if len(entries) == 0 {
		return out, nil
	}

	seen := map[string]bool{}
	var ids []string
	for _, en := range entries {
		if en.UserID != "" && !seen[en.UserID] {
			seen[en.UserID] = true
			ids = append(ids, en.UserID)
		}
	}
	users, err := e.Store.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	houses, err := e.Store.ListHouses(ctx, routeID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.House, len(houses))
	for _, h := range houses {
		byID[h.ID] = h
	}

	for _, en := range entries {
		v := model.HistoryView{HistoryEntry: en}
		if u, ok := users[en.UserID]; ok {
			v.User = &model.UserSummary{ID: u.ID, DisplayName: u.DisplayName}
		} else if en.UserID != "" {
			v.User = &model.UserSummary{ID: en.UserID}
		}
		if h, ok := byID[en.HouseID]; ok {
			v.House = &model.HouseSummary{ID: h.ID, Address: h.Address}
		}
		out = append(out, v)
	}
	return out, nil
}

// TeamStats aggregates every route of a team. A team with no routes yields zero values.
func (e *Engine) TeamStats(ctx context.Context, teamID string, scope stats.Scope) (stats.Summary, error) {
	return e.summarize(ctx, store.Filter{TeamID: teamID}, scope)
}

// UserStats aggregates the routes assigned to a driver.
func (e *Engine) UserStats(ctx context.Context, userID string, scope stats.Scope) (stats.Summary, error) {
	return e.summarize(ctx, store.Filter{DriverID: userID}, scope)
}

func (e *Engine) summarize(ctx context.Context, f store.Filter, scope stats.Scope) (stats.Summary, error) {
	if f.TeamID == "" && f.DriverID == "" {
		return stats.Summary{}, model.Invalidf("an id is required")
	}
	routes, err := e.Store.Snapshot(ctx, f)
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Compute(routes, stats.Options{Now: e.Now(), HouseScope: scope}), nil
}

// RouteStats is the single-route efficiency view.
func (e *Engine) RouteStats(ctx context.Context, routeID string) (stats.RouteSummary, error) {
	r, err := e.Store.GetRoute(ctx, routeID)
	if err != nil {
		return stats.RouteSummary{}, err
	}
	return stats.ForRoute(r), nil
}

// OnRouteChanged calls fn for each committed change to routeID until the returned func is called or
// ctx ends. That func waits for an in-flight callback, so fn never runs after it returns;
// fn must therefore not call it itself.
func (e *Engine) OnRouteChanged(ctx context.Context, routeID string, fn func(model.RouteChange)) func() {
	ch := e.Feed.Subscribe(routeID)
	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				return
			case c, ok := <-ch:
				if !ok {
					return
				}
				select {
				case <-quit:
					return
				default:
				}
				fn(c)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(quit)
			<-done
			e.Feed.Unsubscribe(routeID, ch)
		})
	}
	release := context.AfterFunc(ctx, stop)
	return func() {
		release()
		stop()
	}
}
