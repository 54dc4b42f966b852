package model

import "time"

// DeliveryStatus is the lifecycle state of a delivery log entry.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryLogEntry is the durable record of an attempted delivery.
// Within a dedup window at most one entry per dedup key reaches the
// delivered state.
type DeliveryLogEntry struct {
	ID           int64
	TaskRef      int64
	IntentKind   IntentKind
	Recipient    string
	DedupKey     string
	Status       DeliveryStatus
	AttemptCount int
	LastError    *string
	DeliveredAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
