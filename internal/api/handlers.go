package api

import (
    "context"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/twpayne/go-geom"
    "github.com/twpayne/go-geom/encoding/geojson"

    "collectroute/internal/lifecycle"
    "collectroute/internal/model"
    "collectroute/internal/stats"
)

type createRouteRequest struct {
    Name        string                 `json:"name"`
    TeamID      string                 `json:"teamId"`
    DriverID    string                 `json:"driverId"`
    Date        string                 `json:"date"`
    TotalHouses int                    `json:"totalHouses"`
    Houses      []lifecycle.HouseInput `json:"houses"`
}

// parseDay accepts 2006-01-02 or a full RFC3339 timestamp.
func parseDay(s string) (time.Time, error) {
    s = strings.TrimSpace(s)
    if t, err := time.Parse(time.DateOnly, s); err == nil {
        return t, nil
    }
    t, err := time.Parse(time.RFC3339, s)
    if err != nil {
        return time.Time{}, model.Invalidf("date %q is not YYYY-MM-DD or RFC3339", s)
    }
    return t, nil
}

// CreateRoute handles POST /v1/routes
func (s *Server) CreateRoute(w http.ResponseWriter, r *http.Request) {
    var req createRouteRequest
    if err := decodeJSON(r, &req); err != nil {
        writeError(w, r, err)
        return
    }
    day, err := parseDay(req.Date)
    if err != nil {
        writeError(w, r, err)
        return
    }
    p := principalFrom(r.Context())
    if req.TeamID == "" {
        req.TeamID = p.TeamID
    }
    id, err := s.Engine.CreateRoute(r.Context(), lifecycle.CreateRouteInput{
        Name:        req.Name,
        TeamID:      req.TeamID,
        DriverID:    req.DriverID,
        Date:        day,
        TotalHouses: req.TotalHouses,
        CreatorID:   p.UserID,
        Houses:      req.Houses,
    })
    if err != nil {
        writeError(w, r, err)
        return
    }
    w.Header().Set("Location", "/v1/routes/"+id)
    writeJSON(w, http.StatusCreated, map[string]string{"routeId": id})
}

// GetRoute handles GET /v1/routes/{routeID}
func (s *Server) GetRoute(w http.ResponseWriter, r *http.Request) {
    d, err := s.Engine.GetRoute(r.Context(), chi.URLParam(r, "routeID"))
    if err != nil {
        writeError(w, r, err)
        return
    }
    w.Header().Set("ETag", etag(d.Version))
    writeJSON(w, http.StatusOK, d)
}

func etag(version int64) string { return `"` + strconv.FormatInt(version, 10) + `"` }

// expectVersion reads If-Match. An absent or wildcard header means no check.
func expectVersion(r *http.Request) (int64, error) {
    v := strings.TrimSpace(r.Header.Get("If-Match"))
    if v == "" || v == "*" {
        return 0, nil
    }
    v = strings.TrimPrefix(v, "W/")
    n, err := strconv.ParseInt(strings.Trim(v, `"`), 10, 64)
    if err != nil || n <= 0 {
        return 0, model.Invalidf("If-Match must be a route version")
    }
    return n, nil
}

type statusRequest struct {
    Status string  `json:"status"`
    Notes  *string `json:"notes"`
}

// UpdateRouteStatus handles PATCH /v1/routes/{routeID}/status
func (s *Server) UpdateRouteStatus(w http.ResponseWriter, r *http.Request) {
    var req statusRequest
    if err := decodeJSON(r, &req); err != nil {
        writeError(w, r, err)
        return
    }
    ver, err := expectVersion(r)
    if err != nil {
        writeError(w, r, err)
        return
    }
    in := lifecycle.RouteStatusInput{
        RouteID:       chi.URLParam(r, "routeID"),
        Status:        req.Status,
        ActorID:       principalFrom(r.Context()).UserID,
        ExpectVersion: ver,
    }
    if req.Notes != nil {
        in.Notes = *req.Notes
    }
    route, err := s.Engine.UpdateRouteStatus(r.Context(), in)
    if err != nil {
        writeError(w, r, err)
        return
    }
    w.Header().Set("ETag", etag(route.Version))
    writeJSON(w, http.StatusOK, route)
}

type addHouseRequest struct {
    TeamID string `json:"teamId"`
    lifecycle.HouseInput
}

// AddHouse handles POST /v1/routes/{routeID}/houses
func (s *Server) AddHouse(w http.ResponseWriter, r *http.Request) {
    var req addHouseRequest
    if err := decodeJSON(r, &req); err != nil {
        writeError(w, r, err)
        return
    }
    routeID := chi.URLParam(r, "routeID")
    id, err := s.Engine.AddHouse(r.Context(), lifecycle.AddHouseInput{
        RouteID:    routeID,
        TeamID:     req.TeamID,
        ActorID:    principalFrom(r.Context()).UserID,
        HouseInput: req.HouseInput,
    })
    if err != nil {
        writeError(w, r, err)
        return
    }
    writeJSON(w, http.StatusCreated, map[string]string{"houseId": id, "routeId": routeID})
}

// UpdateHouseStatus handles PATCH /v1/houses/{houseID}/status
func (s *Server) UpdateHouseStatus(w http.ResponseWriter, r *http.Request) {
    var req statusRequest
    if err := decodeJSON(r, &req); err != nil {
        writeError(w, r, err)
        return
    }
    h, err := s.Engine.UpdateHouseStatus(r.Context(), lifecycle.HouseStatusInput{
        HouseID: chi.URLParam(r, "houseID"),
        Status:  req.Status,
        ActorID: principalFrom(r.Context()).UserID,
        Notes:   req.Notes,
    })
    if err != nil {
        writeError(w, r, err)
        return
    }
    writeJSON(w, http.StatusOK, h)
}

// RouteHistory handles GET /v1/routes/{routeID}/history?order=asc|desc
func (s *Server) RouteHistory(w http.ResponseWriter, r *http.Request) {
    asc := false
    switch strings.ToLower(r.URL.Query().Get("order")) {
    case "", "desc":
    case "asc":
        asc = true
    default:
        writeProblem(w, http.StatusBadRequest, "Invalid Input", "order must be asc or desc", r.URL.Path)
        return
    }
    items, err := s.Engine.History(r.Context(), chi.URLParam(r, "routeID"), asc)
    if err != nil {
        writeError(w, r, err)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// RouteStats handles GET /v1/routes/{routeID}/stats
func (s *Server) RouteStats(w http.ResponseWriter, r *http.Request) {
    v, err := s.Engine.RouteStats(r.Context(), chi.URLParam(r, "routeID"))
    if err != nil {
        writeError(w, r, err)
        return
    }
    writeJSON(w, http.StatusOK, v)
}

// TeamStats handles GET /v1/teams/{teamID}/stats?houses=completed|all
func (s *Server) TeamStats(w http.ResponseWriter, r *http.Request) {
    s.summary(w, r, func(ctx context.Context, scope stats.Scope) (stats.Summary, error) {
        return s.Engine.TeamStats(ctx, chi.URLParam(r, "teamID"), scope)
    })
}

// UserStats handles GET /v1/users/{userID}/stats?houses=completed|all
func (s *Server) UserStats(w http.ResponseWriter, r *http.Request) {
    s.summary(w, r, func(ctx context.Context, scope stats.Scope) (stats.Summary, error) {
        return s.Engine.UserStats(ctx, chi.URLParam(r, "userID"), scope)
    })
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request, get func(context.Context, stats.Scope) (stats.Summary, error)) {
    scope, err := stats.ParseScope(r.URL.Query().Get("houses"))
    if err != nil {
        writeError(w, r, err)
        return
    }
    sum, err := get(r.Context(), scope)
    if err != nil {
        writeError(w, r, err)
        return
    }
    writeJSON(w, http.StatusOK, sum)
}

// RouteGeoJSON handles GET /v1/routes/{routeID}/geojson: one point per house plus the
// traversal line in house order.
func (s *Server) RouteGeoJSON(w http.ResponseWriter, r *http.Request) {
    d, err := s.Engine.GetRoute(r.Context(), chi.URLParam(r, "routeID"))
    if err != nil {
        writeError(w, r, err)
        return
    }
    fc := routeFeatures(d)
    b, err := fc.MarshalJSON()
    if err != nil {
        writeError(w, r, err)
        return
    }
    w.Header().Set("Content-Type", "application/geo+json")
    w.WriteHeader(http.StatusOK)
    _, _ = w.Write(b)
}

func routeFeatures(d model.RouteDetail) *geojson.FeatureCollection {
    fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(d.Houses)+1)}
    coords := make([]float64, 0, 2*len(d.Houses))
    for _, h := range d.Houses {
        coords = append(coords, h.Longitude, h.Latitude)
        fc.Features = append(fc.Features, &geojson.Feature{
            ID:       h.ID,
            Geometry: geom.NewPointFlat(geom.XY, []float64{h.Longitude, h.Latitude}),
            Properties: map[string]any{
                "kind":    "house",
                "address": h.Address,
                "status":  h.Status,
                "order":   h.Order,
            },
        })
    }
    if len(d.Houses) >= 2 {
        fc.Features = append(fc.Features, &geojson.Feature{
            ID:       d.ID,
            Geometry: geom.NewLineStringFlat(geom.XY, coords),
            Properties: map[string]any{
                "kind":            "route",
                "name":            d.Name,
                "status":          d.Status,
                "totalHouses":     d.TotalHouses,
                "completedHouses": d.CompletedHouses,
            },
        })
    }
    return fc
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler handles GET /readyz and checks the store.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil {
        writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
