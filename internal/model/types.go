package model

import (
    "strings"
    "time"
)

// RouteStatus is the lifecycle state of a route. Values outside the known set
// are carried through unchanged.
type RouteStatus string

const (
    RoutePending    RouteStatus = "pending"
    RouteInProgress RouteStatus = "in_progress"
    RoutePaused     RouteStatus = "paused"
    RouteCompleted  RouteStatus = "completed"
    RouteCanceled   RouteStatus = "canceled"
)

// Known reports whether s is one of the recognised route states.
func (s RouteStatus) Known() bool {
    switch s {
    case RoutePending, RouteInProgress, RoutePaused, RouteCompleted, RouteCanceled:
        return true
    }
    return false
}

// ParseRouteStatus normalises s. Unrecognised values pass through.
func ParseRouteStatus(s string) (RouteStatus, error) {
    v := strings.ToLower(strings.TrimSpace(s))
    if v == "" {
        return "", Invalidf("status is required")
    }
    return RouteStatus(v), nil
}

// HouseStatus is the collection outcome of a house. Editors may supply custom values.
type HouseStatus string

const (
    HousePending     HouseStatus = "pending"
    HouseCollect     HouseStatus = "collect"
    HouseSkip        HouseStatus = "skip"
    HouseNewCustomer HouseStatus = "new_customer"
)

// Terminal reports whether the house has been resolved (collected or skipped).
func (s HouseStatus) Terminal() bool { return s == HouseCollect || s == HouseSkip }

func (s HouseStatus) Known() bool {
    switch s {
    case HousePending, HouseCollect, HouseSkip, HouseNewCustomer:
        return true
    }
    return false
}

// ParseHouseStatus trims s; an empty status is rejected. Case is preserved for
// custom values but the known set is matched case-insensitively.
func ParseHouseStatus(s string) (HouseStatus, error) {
    v := strings.TrimSpace(s)
    if v == "" {
        return "", Invalidf("status is required")
    }
    if k := HouseStatus(strings.ToLower(v)); k.Known() {
        return k, nil
    }
    return HouseStatus(v), nil
}

// HistoryAction names what a history entry records. The first eight values are the
// audit schema shared with other consumers of the log; ActionHouseAdded is an extension
// written only by AddHouse, and readers that know just the core set should treat it as
// house_updated.
type HistoryAction string

const (
    ActionCreated        HistoryAction = "created"
    ActionStarted        HistoryAction = "started"
    ActionPaused         HistoryAction = "paused"
    ActionCompleted      HistoryAction = "completed"
    ActionUpdated        HistoryAction = "updated"
    ActionHouseAdded     HistoryAction = "house_added"
    ActionHouseCollected HistoryAction = "house_collected"
    ActionHouseSkipped   HistoryAction = "house_skipped"
    ActionHouseUpdated   HistoryAction = "house_updated"
)

// Route is a scheduled collection run.
type Route struct {
    ID              string      `json:"id"`
    Name            string      `json:"name"`
    TeamID          string      `json:"teamId"`
    DriverID        string      `json:"driverId,omitempty"`
    Status          RouteStatus `json:"status"`
    Date            time.Time   `json:"date"`
    StartTime       *time.Time  `json:"startTime,omitempty"`
    EndTime         *time.Time  `json:"endTime,omitempty"`
    Duration        *int        `json:"duration,omitempty"` // minutes
    TotalHouses     int         `json:"totalHouses"`
    CompletedHouses int         `json:"completedHouses"`
    CreatedBy       string      `json:"createdBy"`
    CreatedAt       time.Time   `json:"createdAt"`
    UpdatedAt       time.Time   `json:"updatedAt"`
    Version         int64       `json:"version"`
}

// House is a single stop on a route.
type House struct {
    ID        string      `json:"id"`
    RouteID   string      `json:"routeId"`
    TeamID    string      `json:"teamId"`
    Address   string      `json:"address"`
    Latitude  float64     `json:"latitude"`
    Longitude float64     `json:"longitude"`
    Status    HouseStatus `json:"status"`
    Notes     string      `json:"notes,omitempty"`
    Order     int         `json:"order"`
    CreatedAt time.Time   `json:"createdAt"`
    UpdatedAt time.Time   `json:"updatedAt"`
}

// HistoryEntry is an immutable audit record. Seq orders entries that share a timestamp.
type HistoryEntry struct {
    ID        string        `json:"id"`
    RouteID   string        `json:"routeId"`
    UserID    string        `json:"userId"`
    TeamID    string        `json:"teamId"`
    HouseID   string        `json:"houseId,omitempty"`
    Action    HistoryAction `json:"action"`
    Timestamp time.Time     `json:"timestamp"`
    Notes     string        `json:"notes,omitempty"`
    Seq       int64         `json:"-"`
}

type User struct {
    ID          string `json:"id"`
    DisplayName string `json:"displayName"`
    TeamID      string `json:"teamId,omitempty"`
}

type UserSummary struct {
    ID          string `json:"id"`
    DisplayName string `json:"displayName"`
}

type HouseSummary struct {
    ID      string `json:"id"`
    Address string `json:"address"`
}

// HistoryView is a history entry joined with presentation summaries at read time.
type HistoryView struct {
    HistoryEntry
    User  *UserSummary  `json:"user,omitempty"`
    House *HouseSummary `json:"house,omitempty"`
}

// RouteDetail is a route with its houses in traversal order.
type RouteDetail struct {
    Route
    Houses []House `json:"houses"`
}

type ChangeKind string

const (
    ChangeRouteCreated  ChangeKind = "route.created"
    ChangeRouteStatus   ChangeKind = "route.status"
    ChangeHouseAdded    ChangeKind = "house.added"
    ChangeHouseStatus   ChangeKind = "house.status"
    ChangeProximityHint ChangeKind = "house.proximity"
)

// RouteChange is published after a write to a route commits.
type RouteChange struct {
    RouteID string         `json:"routeId"`
    Kind    ChangeKind     `json:"kind"`
    Action  HistoryAction  `json:"action,omitempty"`
    HouseID string         `json:"houseId,omitempty"`
    Route   *Route         `json:"route,omitempty"`
    House   *House         `json:"house,omitempty"`
    Data    map[string]any `json:"data,omitempty"`
    At      time.Time      `json:"at"`
}

// DayOf truncates t to midnight UTC.
func DayOf(t time.Time) time.Time {
    y, m, d := t.UTC().Date()
    return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
