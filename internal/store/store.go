package store

import (
    "context"
    "time"

    "collectroute/internal/model"
)

// Store is the persistence interface used by the lifecycle engine and the API server.
// Writes to routes, houses and history only happen through WithTx.
type Store interface {
    // WithTx runs fn in one atomic unit. Any error from fn discards every write made through tx.
    WithTx(ctx context.Context, fn func(tx Tx) error) error

    // Reads
    GetRoute(ctx context.Context, routeID string) (model.Route, error)
    GetHouse(ctx context.Context, houseID string) (model.House, error)
    ListHouses(ctx context.Context, routeID string) ([]model.House, error)
    ListHistory(ctx context.Context, routeID string, ascending bool) ([]model.HistoryEntry, error)
    Snapshot(ctx context.Context, f Filter) ([]model.Route, error)

    // User directory, read-only from the engine's point of view
    GetUsers(ctx context.Context, ids []string) (map[string]model.User, error)
    UpsertUser(ctx context.Context, u model.User) error

    // Webhook outbox
    EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error

    Ping(ctx context.Context) error
    Close() error
}

// Tx is the write side of a single transaction.
type Tx interface {
    // GetRoute and GetHouse read through pending writes and lock the row where the backend supports it.
    GetRoute(ctx context.Context, routeID string) (model.Route, error)
    GetHouse(ctx context.Context, houseID string) (model.House, error)

    InsertRoute(ctx context.Context, r model.Route) error
    // UpdateRoute persists status and timing fields. It fails with ErrConflict when the stored
    // version differs from r.Version, and bumps the version on success.
    UpdateRoute(ctx context.Context, r model.Route) (model.Route, error)
    IncrementTotalHouses(ctx context.Context, routeID string, at time.Time) error
    // IncrementCompletedHouses adds one unless the route is already at its total.
    IncrementCompletedHouses(ctx context.Context, routeID string, at time.Time) (bool, error)

    // InsertHouse rejects a duplicate order within the route with ErrInvalidInput.
    InsertHouse(ctx context.Context, h model.House) error
    UpdateHouse(ctx context.Context, h model.House) error

    AppendHistory(ctx context.Context, e model.HistoryEntry) error
}

// Filter restricts a snapshot. Empty fields match everything.
type Filter struct {
    TeamID   string
    DriverID string
}

func (f Filter) match(r model.Route) bool {
    if f.TeamID != "" && r.TeamID != f.TeamID {
        return false
    }
    if f.DriverID != "" && r.DriverID != f.DriverID {
        return false
    }
    return true
}

var ErrNotFound = model.ErrNotFound
