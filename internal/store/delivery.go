package store

import "time"

// WebhookDelivery is one queued outbound event.
type WebhookDelivery struct {
    ID            string
    EventType     string
    URL           string
    Secret        string
    Payload       []byte
    Status        string // pending, delivered, failed
    Attempts      int
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
}

const (
    DeliveryPending   = "pending"
    DeliveryDelivered = "delivered"
    DeliveryFailed    = "failed"
)
