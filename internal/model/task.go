package model

import "time"

// Status is the normalized task status vocabulary. Remote systems use
// arbitrary strings; anything without a configured mapping lands in
// StatusOther with the raw string kept on the task for redisplay.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusOther      Status = "other"
)

// Priority levels follow the remote convention: 1 is urgent, 4 is low.
// Zero means unset.
const (
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityNormal = 3
	PriorityLow    = 4
)

// CustomField is one entry of the canonical custom-field shape: an
// ordered list of name/value pairs. Names are stored as given by the
// caller; lookups against the remote field-id table are case-insensitive.
type CustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Task is the canonical local unit of work.
//
// DueAt is always epoch milliseconds UTC. DueRaw holds an as-received due
// value that could not be normalized at the boundary; it is empty for
// healthy rows and only consulted when DueAt is zero.
type Task struct {
	LocalID      int64
	RemoteID     string // empty until the first successful remote create
	ListID       string // remote list the task belongs to
	Name         string
	Description  string
	Status       Status
	StatusRaw    string // original remote string when Status is StatusOther
	Priority     int    // 1..4, 0 when unset
	DueAt        int64  // epoch ms UTC, 0 when unset
	DueRaw       string
	AssigneeRef  string // opaque remote user id, empty when unassigned
	CustomFields []CustomField

	IsSynced      bool
	SyncedVersion int64 // local version last confirmed present remotely
	LastSyncAt    *time.Time
	Version       int64 // bumped by the CRUD layer on every local mutation
}

// Dirty reports whether the latest local mutation still awaits a
// confirmed remote round trip.
func (t *Task) Dirty() bool {
	return !t.IsSynced || t.Version != t.SyncedVersion
}

// Due returns the due instant, and false when no due date is set.
func (t *Task) Due() (time.Time, bool) {
	if t.DueAt == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(t.DueAt).UTC(), true
}
