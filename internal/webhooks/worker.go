package webhooks

import (
    "bytes"
    "context"
    "net/http"
    "strconv"
    "time"

    "github.com/sirupsen/logrus"

    "collectroute/internal/metrics"
    "collectroute/internal/store"
)

// Worker drains the webhook outbox, signing each body with the delivery secret and
// retrying failures with exponential backoff until MaxAttempts.
type Worker struct {
    Store       store.Store
    HTTP        *http.Client
    MaxAttempts int
    Interval    time.Duration
    BatchSize   int
    Log         *logrus.Entry
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
    if maxAttempts <= 0 {
        maxAttempts = 10
    }
    return &Worker{
        Store:       s,
        HTTP:        &http.Client{Timeout: 5 * time.Second},
        MaxAttempts: maxAttempts,
        Interval:    time.Second,
        BatchSize:   50,
        Log:         logrus.WithField("component", "webhook-worker"),
    }
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
    ticker := time.NewTicker(w.Interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return nil
        case <-ticker.C:
            w.processOnce(ctx)
        }
    }
}

func (w *Worker) processOnce(parent context.Context) int {
    ctx, cancel := context.WithTimeout(parent, 10*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.BatchSize)
    if err != nil {
        w.Log.WithError(err).Warn("fetch due deliveries")
        return 0
    }
    for _, it := range items {
        w.deliver(ctx, it)
    }
    return len(items)
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
    log := w.Log.WithFields(logrus.Fields{"delivery_id": it.ID, "event_type": it.EventType, "attempt": it.Attempts + 1})
    success := false
    code := 0
    lastErr := ""

    start := time.Now()
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
    if err == nil {
        req.Header.Set("Content-Type", "application/json")
        req.Header.Set("X-Event-Type", it.EventType)
        if it.Secret != "" {
            req.Header.Set(SignatureHeader, Sign(it.Secret, it.Payload))
        }
        var resp *http.Response
        resp, err = w.HTTP.Do(req)
        if err == nil {
            code = resp.StatusCode
            _ = resp.Body.Close()
            success = code >= 200 && code < 300
        }
    }
    latency := int(time.Since(start).Milliseconds())
    switch {
    case err != nil:
        lastErr = err.Error()
    case !success:
        lastErr = "status " + strconv.Itoa(code)
    }

    status := store.DeliveryDelivered
    if !success {
        status = store.DeliveryPending
        if it.Attempts+1 >= w.MaxAttempts {
            status = store.DeliveryFailed
        }
    }
    metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
    metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))

    if status == store.DeliveryFailed {
        log.WithField("code", code).Warn("webhook delivery gave up: " + lastErr)
        if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil {
            log.WithError(err).Error("mark delivery failed")
        }
        return
    }
    next := time.Now().Add(nextBackoff(it.Attempts))
    if err := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); err != nil {
        log.WithError(err).Error("mark delivery")
        return
    }
    if success {
        log.WithField("latency_ms", latency).Debug("webhook delivered")
    } else {
        log.WithField("code", code).Info("webhook delivery will retry: " + lastErr)
    }
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 {
        attempts = 0
    }
    if attempts > 10 {
        attempts = 10
    }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour {
        base = time.Hour
    }
    return base
}
