package api

import (
    "encoding/json"
    "fmt"
    "net/http"
    "time"

    "github.com/go-chi/chi/v5"

    "collectroute/internal/model"
)

const heartbeatEvery = 15 * time.Second

// RouteEventStream handles GET /v1/routes/{routeID}/events/stream as server-sent events.
// Each committed change is one event named after its kind.
func (s *Server) RouteEventStream(w http.ResponseWriter, r *http.Request) {
    id := chi.URLParam(r, "routeID")
    if _, err := s.Store.GetRoute(r.Context(), id); err != nil {
        writeError(w, r, err)
        return
    }
    flusher, ok := w.(http.Flusher)
    if !ok {
        writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
        return
    }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")

    events := make(chan model.RouteChange, 16)
    cancel := s.Engine.OnRouteChanged(r.Context(), id, func(c model.RouteChange) {
        select {
        case events <- c:
        default:
        }
    })
    defer cancel()

    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"routeId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()

    ticker := time.NewTicker(heartbeatEvery)
    defer ticker.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case c := <-events:
            b, err := json.Marshal(c)
            if err != nil {
                s.Log.WithError(err).Warn("encode route change")
                continue
            }
            fmt.Fprintf(w, "event: %s\n", c.Kind)
            fmt.Fprintf(w, "data: %s\n\n", b)
            flusher.Flush()
        case <-ticker.C:
            heartbeat()
        }
    }
}
