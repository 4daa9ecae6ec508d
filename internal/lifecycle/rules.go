package lifecycle

import (
	"time"

	"collectroute/internal/model"
)

// applyRouteStatus computes the route after a status request and the history action to log.
// Any status is accepted. Requesting the current status changes nothing and logs "updated".
func applyRouteStatus(r model.Route, next model.RouteStatus, now time.Time) (model.Route, model.HistoryAction) {
	if r.Status == next {
		return r, model.ActionUpdated
	}
	r.Status = next
	switch next {
	case model.RouteInProgress:
		if r.StartTime == nil {
			t := now
			r.StartTime = &t
		}
		return r, model.ActionStarted
	case model.RoutePaused:
		return r, model.ActionPaused
	case model.RouteCompleted:
		if r.Duration == nil {
			end := now
			r.EndTime = &end
			if r.StartTime != nil {
				d := durationMinutes(*r.StartTime, end)
				r.Duration = &d
			}
		}
		return r, model.ActionCompleted
	}
	return r, model.ActionUpdated
}

// durationMinutes is floor((end - start) / 60000ms). A clock running backwards yields 0.
func durationMinutes(start, end time.Time) int {
	ms := end.Sub(start).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int(ms / 60000)
}

// applyHouseStatus reports whether moving prev -> next counts a completed house and which
// action to log. Only the first arrival at collect or skip counts.
func applyHouseStatus(prev, next model.HouseStatus) (counts bool, action model.HistoryAction) {
	counts = next.Terminal() && !prev.Terminal()
	switch {
	case prev == next:
		action = model.ActionHouseUpdated
	case next == model.HouseCollect:
		action = model.ActionHouseCollected
	case next == model.HouseSkip:
		action = model.ActionHouseSkipped
	default:
		action = model.ActionHouseUpdated
	}
	return counts, action
}
