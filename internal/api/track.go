package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collectroute/internal/geofence"
	"collectroute/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// trackFrame is a client message on the tracking socket.
type trackFrame struct {
	Type      string    `json:"type"` // sample or permission
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Granted   bool      `json:"granted"`
}

// trackReply is a server message on the tracking socket.
type trackReply struct {
	Type  string          `json:"type"` // ready, proximity, permission_required, error
	Event *geofence.Event `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

type socketWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (sw *socketWriter) send(v any) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	_ = sw.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sw.conn.WriteJSON(v)
}

// TrackPosition handles GET /v1/routes/{routeID}/track. The device streams position samples;
// the server answers with one proximity frame per zone entry. Query permission=denied opens
// the session without location access until a permission frame grants it.
func (s *Server) TrackPosition(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	detail, err := s.Engine.GetRoute(r.Context(), routeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	log := s.Log.WithFields(logrus.Fields{"route_id": routeID, "user_id": principalFrom(r.Context()).UserID})
	out := &socketWriter{conn: conn}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sinks := append([]geofence.Sink{
		geofence.SinkFunc(func(_ context.Context, e geofence.Event) {
			ev := e
			if err := out.send(trackReply{Type: "proximity", Event: &ev}); err != nil {
				cancel()
			}
		}),
		geofence.MetricsSink,
		s.proximityFeed(),
	}, s.Sinks...)

	perm := geofence.NewPermission(r.URL.Query().Get("permission") != "denied")
	mon, err := geofence.NewMonitor(routeID, s.Geofence, perm, detail.Houses, geofence.Multi(sinks))
	if err != nil {
		_ = out.send(trackReply{Type: "error", Error: err.Error()})
		return
	}
	defer mon.Stop()

	// Keep the monitored set current as houses are added or resolved.
	houses := make(map[string]model.House, len(detail.Houses))
	for _, h := range detail.Houses {
		houses[h.ID] = h
	}
	unsubscribe := s.Engine.OnRouteChanged(ctx, routeID, func(c model.RouteChange) {
		if c.House == nil {
			return
		}
		houses[c.House.ID] = *c.House
		list := make([]model.House, 0, len(houses))
		for _, h := range houses {
			list = append(list, h)
		}
		mon.SetHouses(list)
	})
	defer unsubscribe()

	samples := make(chan geofence.Sample, 32)
	prompted := false
	start := func() {
		err := mon.Start(ctx, samples)
		if errors.Is(err, geofence.ErrPermissionUnavailable) && !prompted {
			prompted = true
			_ = out.send(trackReply{Type: "permission_required"})
		}
	}
	start()
	_ = out.send(trackReply{Type: "ready"})

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				out.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				out.mu.Unlock()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for ctx.Err() == nil {
		var f trackFrame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("track read ended")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch f.Type {
		case "permission":
			if f.Granted {
				perm.Grant()
				start()
			} else {
				perm.Revoke()
			}
		case "sample", "":
			if !perm.Allowed() {
				continue
			}
			select {
			case samples <- geofence.Sample{Lat: f.Lat, Lng: f.Lng, Timestamp: f.Timestamp, Accuracy: f.Accuracy}:
			case <-ctx.Done():
				return
			}
		default:
			_ = out.send(trackReply{Type: "error", Error: "unknown frame type " + f.Type})
		}
	}
}

// proximityFeed republishes proximity events on the route's change feed as hints for
// stream subscribers. Nothing is persisted.
func (s *Server) proximityFeed() geofence.Sink {
	return geofence.SinkFunc(func(_ context.Context, e geofence.Event) {
		s.Engine.Feed.Publish(e.RouteID, model.RouteChange{
			RouteID: e.RouteID,
			Kind:    model.ChangeProximityHint,
			HouseID: e.HouseID,
			Data: map[string]any{
				"proximityState": e.State,
				"distanceMeters": e.DistanceMeters,
				"address":        e.Address,
			},
			At: e.At,
		})
	})
}
