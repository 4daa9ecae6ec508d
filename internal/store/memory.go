package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "collectroute/internal/model"
)

// Memory is an in-process store used when no database is configured and in tests.
// Transactions hold the store lock and stage writes until fn returns nil.
type Memory struct {
    mu         sync.Mutex
    routes     map[string]model.Route
    houses     map[string]model.House
    byRoute    map[string][]string // routeId -> house ids, insertion order
    history    map[string][]model.HistoryEntry
    seq        int64
    users      map[string]model.User
    deliveries map[string]*WebhookDelivery
    queue      []string // delivery ids in enqueue order
}

func NewMemory() *Memory {
    return &Memory{
        routes:     map[string]model.Route{},
        houses:     map[string]model.House{},
        byRoute:    map[string][]string{},
        history:    map[string][]model.HistoryEntry{},
        users:      map[string]model.User{},
        deliveries: map[string]*WebhookDelivery{},
    }
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    tx := &memTx{m: m, routes: map[string]model.Route{}, houses: map[string]model.House{}}
    if err := fn(tx); err != nil {
        return err
    }
    if err := ctx.Err(); err != nil {
        return err
    }
    for id, r := range tx.routes {
        m.routes[id] = r
    }
    for _, id := range tx.added {
        h := tx.houses[id]
        m.byRoute[h.RouteID] = append(m.byRoute[h.RouteID], id)
    }
    for id, h := range tx.houses {
        m.houses[id] = h
    }
    for _, e := range tx.history {
        m.seq++
        e.Seq = m.seq
        m.history[e.RouteID] = append(m.history[e.RouteID], e)
    }
    return nil
}

func (m *Memory) GetRoute(_ context.Context, routeID string) (model.Route, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    r, ok := m.routes[routeID]
    if !ok {
        return model.Route{}, model.NotFoundf("route %s", routeID)
    }
    return r, nil
}

func (m *Memory) GetHouse(_ context.Context, houseID string) (model.House, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    h, ok := m.houses[houseID]
    if !ok {
        return model.House{}, model.NotFoundf("house %s", houseID)
    }
    return h, nil
}

func (m *Memory) ListHouses(_ context.Context, routeID string) ([]model.House, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    ids := m.byRoute[routeID]
    out := make([]model.House, 0, len(ids))
    for _, id := range ids {
        out = append(out, m.houses[id])
    }
    sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
    return out, nil
}

func (m *Memory) ListHistory(_ context.Context, routeID string, ascending bool) ([]model.HistoryEntry, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := append([]model.HistoryEntry{}, m.history[routeID]...)
    sort.SliceStable(out, func(i, j int) bool {
        a, b := out[i], out[j]
        if !a.Timestamp.Equal(b.Timestamp) {
            return a.Timestamp.Before(b.Timestamp) == ascending
        }
        return (a.Seq < b.Seq) == ascending
    })
    return out, nil
}

func (m *Memory) Snapshot(_ context.Context, f Filter) ([]model.Route, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := make([]model.Route, 0, len(m.routes))
    for _, r := range m.routes {
        if f.match(r) {
            out = append(out, r)
        }
    }
    sort.Slice(out, func(i, j int) bool {
        if !out[i].Date.Equal(out[j].Date) {
            return out[i].Date.Before(out[j].Date)
        }
        return out[i].ID < out[j].ID
    })
    return out, nil
}

func (m *Memory) GetUsers(_ context.Context, ids []string) (map[string]model.User, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := make(map[string]model.User, len(ids))
    for _, id := range ids {
        if u, ok := m.users[id]; ok {
            out[id] = u
        }
    }
    return out, nil
}

func (m *Memory) UpsertUser(_ context.Context, u model.User) error {
    if u.ID == "" {
        return model.Invalidf("user id is required")
    }
    m.mu.Lock()
    m.users[u.ID] = u
    m.mu.Unlock()
    return nil
}

func (m *Memory) EnqueueWebhook(_ context.Context, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    id := uuid.New().String()
    m.deliveries[id] = &WebhookDelivery{
        ID: id, EventType: eventType, URL: url, Secret: secret,
        Payload: append([]byte(nil), payload...), Status: DeliveryPending, NextAttemptAt: time.Now(),
    }
    m.queue = append(m.queue, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(_ context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    now := time.Now()
    var out []WebhookDelivery
    for _, id := range m.queue {
        d := m.deliveries[id]
        if d.Status != DeliveryPending || d.NextAttemptAt.After(now) {
            continue
        }
        out = append(out, *d)
        if limit > 0 && len(out) >= limit {
            break
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(_ context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok {
        return model.NotFoundf("delivery %s", id)
    }
    d.Attempts++
    d.LastError, d.ResponseCode, d.LatencyMs = lastError, responseCode, latencyMs
    if success {
        d.Status = DeliveryDelivered
        return nil
    }
    if nextAttemptAt != nil {
        d.NextAttemptAt = *nextAttemptAt
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(_ context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    d, ok := m.deliveries[id]
    if !ok {
        return model.NotFoundf("delivery %s", id)
    }
    d.Attempts++
    d.Status = DeliveryFailed
    d.LastError, d.ResponseCode, d.LatencyMs = lastError, responseCode, latencyMs
    return nil
}

// Deliveries returns a copy of the outbox, oldest first.
func (m *Memory) Deliveries() []WebhookDelivery {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := make([]WebhookDelivery, 0, len(m.queue))
    for _, id := range m.queue {
        out = append(out, *m.deliveries[id])
    }
    return out
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

// memTx stages writes; the owning Memory lock is held for its whole life.
type memTx struct {
    m       *Memory
    routes  map[string]model.Route
    houses  map[string]model.House
    added   []string
    history []model.HistoryEntry
}

func (t *memTx) GetRoute(_ context.Context, routeID string) (model.Route, error) {
    if r, ok := t.routes[routeID]; ok {
        return r, nil
    }
    if r, ok := t.m.routes[routeID]; ok {
        return r, nil
    }
    return model.Route{}, model.NotFoundf("route %s", routeID)
}

func (t *memTx) GetHouse(_ context.Context, houseID string) (model.House, error) {
    if h, ok := t.houses[houseID]; ok {
        return h, nil
    }
    if h, ok := t.m.houses[houseID]; ok {
        return h, nil
    }
    return model.House{}, model.NotFoundf("house %s", houseID)
}

func (t *memTx) InsertRoute(ctx context.Context, r model.Route) error {
    if _, err := t.GetRoute(ctx, r.ID); err == nil {
        return model.Invalidf("route %s already exists", r.ID)
    }
    t.routes[r.ID] = r
    return nil
}

func (t *memTx) UpdateRoute(ctx context.Context, r model.Route) (model.Route, error) {
    cur, err := t.GetRoute(ctx, r.ID)
    if err != nil {
        return model.Route{}, err
    }
    if cur.Version != r.Version {
        return model.Route{}, model.ErrConflict
    }
    cur.Status = r.Status
    cur.StartTime, cur.EndTime, cur.Duration = r.StartTime, r.EndTime, r.Duration
    cur.UpdatedAt = r.UpdatedAt
    cur.Version++
    t.routes[cur.ID] = cur
    return cur, nil
}

func (t *memTx) IncrementTotalHouses(ctx context.Context, routeID string, at time.Time) error {
    r, err := t.GetRoute(ctx, routeID)
    if err != nil {
        return err
    }
    r.TotalHouses++
    r.UpdatedAt = at
    r.Version++
    t.routes[routeID] = r
    return nil
}

func (t *memTx) IncrementCompletedHouses(ctx context.Context, routeID string, at time.Time) (bool, error) {
    r, err := t.GetRoute(ctx, routeID)
    if err != nil {
        return false, err
    }
    if r.CompletedHouses >= r.TotalHouses {
        return false, nil
    }
    r.CompletedHouses++
    r.UpdatedAt = at
    r.Version++
    t.routes[routeID] = r
    return true, nil
}

func (t *memTx) InsertHouse(_ context.Context, h model.House) error {
    for _, id := range t.m.byRoute[h.RouteID] {
        if t.m.houses[id].Order == h.Order {
            return model.Invalidf("order %d already used on route %s", h.Order, h.RouteID)
        }
    }
    for _, id := range t.added {
        if o := t.houses[id]; o.RouteID == h.RouteID && o.Order == h.Order {
            return model.Invalidf("order %d already used on route %s", h.Order, h.RouteID)
        }
    }
    t.houses[h.ID] = h
    t.added = append(t.added, h.ID)
    return nil
}

func (t *memTx) UpdateHouse(ctx context.Context, h model.House) error {
    if _, err := t.GetHouse(ctx, h.ID); err != nil {
        return err
    }
    t.houses[h.ID] = h
    return nil
}

func (t *memTx) AppendHistory(_ context.Context, e model.HistoryEntry) error {
    t.history = append(t.history, e)
    return nil
}
