// Package remote defines the capability interface against the external
// task-tracking service and its HTTP implementation. The engine is
// format-agnostic behind this interface; tests substitute a fake.
package remote

import "context"

// CustomFieldValue addresses a remote custom field by id. Name is only
// populated on reads, for diagnostics.
type CustomFieldValue struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

// Payload is the outbound wire representation of a task. DueDate is an
// epoch-ms integer; the engine never synthesizes a date string, which is
// what caused due dates to drift across timezones historically.
type Payload struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Status       string             `json:"status,omitempty"`
	Priority     int                `json:"priority,omitempty"`
	DueDate      *int64             `json:"due_date,omitempty"`
	Assignees    []string           `json:"assignees,omitempty"`
	CustomFields []CustomFieldValue `json:"custom_fields,omitempty"`
}

// Record is the inbound wire representation of a task.
type Record struct {
	ID           string
	Name         string
	Description  string
	Status       string // raw remote vocabulary, mapped by the field mapper
	Priority     int
	DueDate      *int64 // epoch ms
	Assignees    []string
	CustomFields []CustomFieldValue
}

// Iterator is a lazy, restartable sequence of records. After an error the
// caller may call Next again; the iterator resumes at the same position
// without re-yielding already seen records.
type Iterator interface {
	Next(ctx context.Context) (Record, bool, error)
}

// Client is the capability interface for the remote task service.
// Every method fails with a *Error carrying one of the five kinds.
type Client interface {
	Create(ctx context.Context, listID string, p Payload) (string, error)
	Update(ctx context.Context, id string, p Payload) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	List(listID string) Iterator
}
