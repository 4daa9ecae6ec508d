package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collectroute/internal/geofence"
	"collectroute/internal/model"
	"collectroute/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []failRec
}

type markRec struct {
	ID      string
	Success bool
	Code    int
	LastErr string
}

type failRec struct {
	ID      string
	Code    int
	LastErr string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, failRec{ID: id, Code: responseCode, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerDeliversSignedBody(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 3)
	w.HTTP = srv.Client()
	id, err := rs.EnqueueWebhook(context.Background(), "route.status", srv.URL, "secret", []byte(`{"id":"evt1"}`))
	require.NoError(t, err)

	assert.Equal(t, 1, w.processOnce(context.Background()))
	assert.Equal(t, "route.status", gotType)
	assert.True(t, Verify("secret", gotBody, gotSig))
	require.Len(t, rs.marks, 1)
	assert.Equal(t, id, rs.marks[0].ID)
	assert.True(t, rs.marks[0].Success)
	assert.Equal(t, store.DeliveryDelivered, rs.Deliveries()[0].Status)

	assert.Equal(t, 0, w.processOnce(context.Background()), "delivered items are not fetched again")
}

func TestWorkerRetriesThenGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 2)
	w.HTTP = srv.Client()
	_, err := rs.EnqueueWebhook(context.Background(), "house.status", srv.URL, "", []byte(`{}`))
	require.NoError(t, err)

	w.processOnce(context.Background())
	require.Len(t, rs.marks, 1)
	assert.False(t, rs.marks[0].Success)
	assert.Equal(t, 500, rs.marks[0].Code)
	assert.Equal(t, "status 500", rs.marks[0].LastErr)
	d := rs.Deliveries()[0]
	assert.Equal(t, store.DeliveryPending, d.Status)
	assert.True(t, d.NextAttemptAt.After(time.Now()))

	// Not due yet.
	assert.Equal(t, 0, w.processOnce(context.Background()))
}

func TestWorkerFailsAtMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 1)
	w.HTTP = srv.Client()
	_, err := rs.EnqueueWebhook(context.Background(), "house.status", srv.URL, "", []byte(`{}`))
	require.NoError(t, err)

	w.processOnce(context.Background())
	require.Len(t, rs.fails, 1)
	assert.Equal(t, 502, rs.fails[0].Code)
	assert.Equal(t, store.DeliveryFailed, rs.Deliveries()[0].Status)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(-3))
	assert.Equal(t, 8*time.Second, nextBackoff(3))
	assert.Equal(t, 1024*time.Second, nextBackoff(40))
}

func TestPublisherEnqueuesChangesAndProximity(t *testing.T) {
	mem := store.NewMemory()
	p := NewPublisher(mem, "https://hooks.example.test/collect", "s3cret")
	p.Now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()

	p.RouteChanged(ctx, model.RouteChange{RouteID: "r1", Kind: model.ChangeHouseStatus, Action: model.ActionHouseCollected, HouseID: "h1"})
	p.Emit(ctx, geofence.Event{RouteID: "r1", HouseID: "h1", State: geofence.Near, DistanceMeters: 12})

	out := mem.Deliveries()
	require.Len(t, out, 2)
	assert.Equal(t, "house.status", out[0].EventType)
	assert.Equal(t, "house.proximity", out[1].EventType)
	assert.Equal(t, "s3cret", out[1].Secret)

	var env struct {
		Type    string         `json:"type"`
		RouteID string         `json:"routeId"`
		TS      string         `json:"ts"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out[1].Payload, &env))
	assert.Equal(t, "r1", env.RouteID)
	assert.Equal(t, "2024-01-02T03:04:05Z", env.TS)
	assert.Equal(t, "NEAR", env.Data["proximityState"])
}

func TestPublisherWithoutURLIsSilent(t *testing.T) {
	mem := store.NewMemory()
	NewPublisher(mem, "", "").RouteChanged(context.Background(), model.RouteChange{RouteID: "r1", Kind: model.ChangeRouteCreated})
	assert.Empty(t, mem.Deliveries())
}
