// Package feed fans route changes out to subscribers, in process or over Redis pub/sub.
package feed

import (
    "sync"

    "collectroute/internal/model"
)

// Broker delivers route changes to per-route subscribers. Sends never block the publisher;
// a subscriber that falls behind its buffer misses changes.
type Broker interface {
    Subscribe(routeID string) chan model.RouteChange
    Unsubscribe(routeID string, ch chan model.RouteChange)
    Publish(routeID string, c model.RouteChange)
}

// Memory is the in-process broker.
type Memory struct {
    mu   sync.Mutex
    subs map[string]map[chan model.RouteChange]struct{} // routeId -> set of channels
}

func NewMemory() *Memory {
    return &Memory{subs: map[string]map[chan model.RouteChange]struct{}{}}
}

func (b *Memory) Subscribe(routeID string) chan model.RouteChange {
    ch := make(chan model.RouteChange, 16)
    b.mu.Lock()
    if b.subs[routeID] == nil {
        b.subs[routeID] = map[chan model.RouteChange]struct{}{}
    }
    b.subs[routeID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Memory) Unsubscribe(routeID string, ch chan model.RouteChange) {
    b.mu.Lock()
    m := b.subs[routeID]
    _, ok := m[ch]
    if ok {
        delete(m, ch)
        if len(m) == 0 {
            delete(b.subs, routeID)
        }
    }
    b.mu.Unlock()
    if ok {
        close(ch)
    }
}

func (b *Memory) Publish(routeID string, c model.RouteChange) {
    b.mu.Lock()
    for ch := range b.subs[routeID] {
        select {
        case ch <- c:
        default:
        }
    }
    b.mu.Unlock()
}

// Subscribers reports how many channels are attached to routeID.
func (b *Memory) Subscribers(routeID string) int {
    b.mu.Lock()
    defer b.mu.Unlock()
    return len(b.subs[routeID])
}
