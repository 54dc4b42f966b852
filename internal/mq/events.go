package mq

import "time"

// Routing keys for lifecycle events fanned out to downstream consumers.
const (
	RouteTaskSynced            = "task.synced"
	RouteTaskSyncFailed        = "task.sync_failed"
	RouteNotificationDelivered = "notification.delivered"
	RouteNotificationFailed    = "notification.failed"
)

type TaskSyncedPayload struct {
	LocalID  int64     `json:"local_id"`
	RemoteID string    `json:"remote_id"`
	Outcome  string    `json:"outcome"`
	SyncedAt time.Time `json:"synced_at"`
}

type TaskSyncFailedPayload struct {
	LocalID int64  `json:"local_id"`
	Error   string `json:"error"`
}

type NotificationDeliveredPayload struct {
	TaskRef     int64     `json:"task_ref"`
	Kind        string    `json:"kind"`
	Recipient   string    `json:"recipient"`
	Attempts    int       `json:"attempts"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type NotificationFailedPayload struct {
	TaskRef   int64  `json:"task_ref"`
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error"`
}
