package feed

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"

    "collectroute/internal/model"
)

// Redis implements Broker over Redis pub/sub so every API instance sees every change.
type Redis struct {
    rdb *redis.Client
    mu  sync.Mutex
    ps  map[chan model.RouteChange]*redis.PubSub
}

const subscribeTimeout = 2 * time.Second

func NewRedis(url string) (*Redis, error) {
    opt, err := redis.ParseURL(url)
    if err != nil {
        return nil, err
    }
    rdb := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := rdb.Ping(ctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, err
    }
    return &Redis{rdb: rdb, ps: map[chan model.RouteChange]*redis.PubSub{}}, nil
}

// Subscribe waits for Redis to confirm the subscription so no publish after it returns is
// missed. If the confirmation fails the returned channel is already closed.
func (b *Redis) Subscribe(routeID string) chan model.RouteChange {
    ch := make(chan model.RouteChange, 16)
    ps := b.rdb.Subscribe(context.Background(), chanName(routeID))
    ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
    _, err := ps.Receive(ctx)
    cancel()
    if err != nil {
        logrus.WithError(err).WithField("route_id", routeID).Error("redis subscribe failed")
        _ = ps.Close()
        close(ch)
        return ch
    }
    b.mu.Lock()
    b.ps[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var c model.RouteChange
            if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
                logrus.WithError(err).WithField("channel", msg.Channel).Warn("drop malformed route change")
                continue
            }
            select {
            case ch <- c:
            default:
            }
        }
    }()
    return ch
}

// Unsubscribe closes the pub/sub connection; the reader goroutine then closes ch.
func (b *Redis) Unsubscribe(_ string, ch chan model.RouteChange) {
    b.mu.Lock()
    ps := b.ps[ch]
    delete(b.ps, ch)
    b.mu.Unlock()
    if ps != nil {
        _ = ps.Close()
    }
}

func (b *Redis) Publish(routeID string, c model.RouteChange) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, err := json.Marshal(c)
    if err != nil {
        return
    }
    if err := b.rdb.Publish(ctx, chanName(routeID), data).Err(); err != nil {
        logrus.WithError(err).WithField("route_id", routeID).Warn("redis publish failed")
    }
}

func (b *Redis) Close() error { return b.rdb.Close() }

func chanName(routeID string) string { return "route:" + routeID }
