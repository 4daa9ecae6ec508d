package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the service
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, route pattern, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // RouteTransitions counts committed route writes by history action
    RouteTransitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "route_transitions_total", Help: "Route lifecycle writes by history action."},
        []string{"action"},
    )
    // HouseTransitions counts committed house writes by history action
    HouseTransitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "house_transitions_total", Help: "House status writes by history action."},
        []string{"action"},
    )
    // TxFailures counts lifecycle transactions that rolled back, by operation
    TxFailures = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "lifecycle_tx_failures_total", Help: "Rolled back lifecycle transactions."},
        []string{"op"},
    )

    // ProximityEvents counts geofence zone entries by state
    ProximityEvents = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "proximity_events_total", Help: "Geofence zone entries by proximity state."},
        []string{"state"},
    )
    // ActiveMonitors is the number of running geofence monitors
    ActiveMonitors = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "geofence_active_monitors", Help: "Running geofence monitors."},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to Registry once.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests, HTTPDuration)
        Registry.MustRegister(RouteTransitions, HouseTransitions, TxFailures)
        Registry.MustRegister(ProximityEvents, ActiveMonitors)
        Registry.MustRegister(WebhookDeliveries, WebhookLatency)
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
