// Package api exposes the lifecycle engine over HTTP: JSON endpoints, an SSE change feed
// and a websocket position tracker.
package api

import (
    "net/http"

    "github.com/go-chi/chi/v5"
    "github.com/go-chi/chi/v5/middleware"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/sirupsen/logrus"

    "collectroute/internal/auth"
    "collectroute/internal/geofence"
    "collectroute/internal/lifecycle"
    "collectroute/internal/metrics"
    "collectroute/internal/store"
)

type Server struct {
    Engine   *lifecycle.Engine
    Store    store.Store
    Auth     *auth.Verifier
    Geofence geofence.Config
    // Sinks receive every proximity event from tracking sessions, next to the socket itself.
    Sinks    []geofence.Sink
    Settings map[string]any
    Log      *logrus.Entry

    limiter *ipLimiter
}

type Options struct {
    Engine    *lifecycle.Engine
    Auth      *auth.Verifier
    Geofence  geofence.Config
    Sinks     []geofence.Sink
    RateRPS   float64
    RateBurst int
    // Settings is echoed by /debug/vars. Keep secrets out of it.
    Settings map[string]any
}

func New(opt Options) *Server {
    g := opt.Geofence
    if g == (geofence.Config{}) {
        g = geofence.DefaultConfig()
    }
    return &Server{
        Engine:   opt.Engine,
        Store:    opt.Engine.Store,
        Auth:     opt.Auth,
        Geofence: g,
        Sinks:    opt.Sinks,
        Settings: opt.Settings,
        Log:      logrus.WithField("component", "api"),
        limiter:  newIPLimiter(opt.RateRPS, opt.RateBurst),
    }
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
    metrics.RegisterDefault()

    r := chi.NewRouter()
    r.Use(middleware.RequestID)
    r.Use(middleware.Recoverer)
    r.Use(observe)

    r.Get("/healthz", s.HealthHandler)
    r.Get("/readyz", s.ReadyHandler)
    r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    r.Get("/debug/vars", s.DebugJSON)

    r.Route("/v1", func(r chi.Router) {
        r.Use(s.limiter.middleware)
        r.Use(s.authenticate)

        r.Post("/routes", s.CreateRoute)
        r.Route("/routes/{routeID}", func(r chi.Router) {
            r.Get("/", s.GetRoute)
            r.Get("/geojson", s.RouteGeoJSON)
            r.Patch("/status", s.UpdateRouteStatus)
            r.Post("/houses", s.AddHouse)
            r.Get("/history", s.RouteHistory)
            r.Get("/stats", s.RouteStats)
            r.Get("/events/stream", s.RouteEventStream)
            r.Get("/track", s.TrackPosition)
        })
        r.Patch("/houses/{houseID}/status", s.UpdateHouseStatus)
        r.Get("/teams/{teamID}/stats", s.TeamStats)
        r.Get("/users/{userID}/stats", s.UserStats)
    })
    return r
}
