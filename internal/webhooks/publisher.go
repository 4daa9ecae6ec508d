package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collectroute/internal/geofence"
	"collectroute/internal/model"
	"collectroute/internal/store"
)

// Publisher enqueues route changes and proximity events into the store outbox for the
// configured endpoint. Delivery happens later in the Worker.
type Publisher struct {
	Store  store.Store
	URL    string
	Secret string
	Now    func() time.Time
	Log    *logrus.Entry
}

func NewPublisher(s store.Store, url, secret string) *Publisher {
	return &Publisher{
		Store:  s,
		URL:    url,
		Secret: secret,
		Now:    time.Now,
		Log:    logrus.WithField("component", "webhooks"),
	}
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	RouteID string `json:"routeId"`
	TS      string `json:"ts"`
	Data    any    `json:"data"`
}

// RouteChanged enqueues one delivery per committed lifecycle change.
func (p *Publisher) RouteChanged(ctx context.Context, c model.RouteChange) {
	p.enqueue(ctx, string(c.Kind), c.RouteID, c)
}

// Emit enqueues a proximity event, so the publisher can sit behind a geofence monitor.
func (p *Publisher) Emit(ctx context.Context, e geofence.Event) {
	p.enqueue(ctx, string(model.ChangeProximityHint), e.RouteID, e)
}

func (p *Publisher) enqueue(ctx context.Context, eventType, routeID string, data any) {
	if p.URL == "" {
		return
	}
	body, err := json.Marshal(envelope{
		ID:      "evt_" + uuid.New().String(),
		Type:    eventType,
		RouteID: routeID,
		TS:      p.Now().UTC().Format(time.RFC3339),
		Data:    data,
	})
	if err != nil {
		p.Log.WithError(err).WithField("event_type", eventType).Error("encode webhook payload")
		return
	}
	if _, err := p.Store.EnqueueWebhook(ctx, eventType, p.URL, p.Secret, body); err != nil {
		p.Log.WithError(err).WithFields(logrus.Fields{"event_type": eventType, "route_id": routeID}).Warn("enqueue webhook")
	}
}
