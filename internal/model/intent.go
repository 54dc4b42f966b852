package model

import "time"

// IntentKind classifies a notification intent.
type IntentKind string

const (
	IntentCreated   IntentKind = "created"
	IntentUpdated   IntentKind = "updated"
	IntentDueSoon   IntentKind = "due_soon"
	IntentOverdue   IntentKind = "overdue"
	IntentCompleted IntentKind = "completed"
)

// NotificationIntent is a transient, queued directive: notify Recipient
// about TaskRef because of Kind. It is consumed exactly once by the
// dispatcher and either delivered or exhausted after max retries.
type NotificationIntent struct {
	ID        string
	TaskRef   int64
	Kind      IntentKind
	Recipient string
	CreatedAt time.Time
	Attempt   int    // delivery attempts already made
	DedupKey  string // assigned at first dispatch; retries keep the same key
}
