// Package notify derives, schedules and dispatches task notifications.
package notify

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"tasksync/internal/model"
)

// Resolver maps a task to a messaging address. Assignee refs are looked
// up in the configured directory; tasks without a resolvable address
// produce no intents.
type Resolver struct {
	recipients map[string]string
}

func NewResolver(recipients map[string]string) *Resolver {
	return &Resolver{recipients: recipients}
}

// Resolve returns the messaging address for the task, or "" when none.
// Falls back to a phone-shaped custom field when the assignee ref has no
// directory entry.
func (r *Resolver) Resolve(t *model.Task) string {
	if t.AssigneeRef != "" {
		if addr, ok := r.recipients[t.AssigneeRef]; ok && addr != "" {
			return addr
		}
	}
	for _, cf := range t.CustomFields {
		if phoneField(cf.Name) && cf.Value != "" {
			return cf.Value
		}
	}
	return ""
}

func phoneField(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "phone") || strings.Contains(lower, "whatsapp")
}

// Derive inspects a before/after task pair and returns the transition
// intent kind, if any. Pure, no I/O. Due-date proximity is never derived
// here: that is wall-clock driven and belongs to the scheduler scans.
func Derive(prev, cur *model.Task) (model.IntentKind, bool) {
	if cur == nil {
		return "", false
	}
	if prev == nil {
		return model.IntentCreated, true
	}
	if prev.Status != model.StatusComplete && cur.Status == model.StatusComplete {
		return model.IntentCompleted, true
	}
	if taskChanged(prev, cur) {
		return model.IntentUpdated, true
	}
	return "", false
}

func taskChanged(a, b *model.Task) bool {
	if a.Name != b.Name || a.Description != b.Description ||
		a.Status != b.Status || a.Priority != b.Priority ||
		a.DueAt != b.DueAt || a.AssigneeRef != b.AssigneeRef {
		return true
	}
	if len(a.CustomFields) != len(b.CustomFields) {
		return true
	}
	for i := range a.CustomFields {
		if a.CustomFields[i] != b.CustomFields[i] {
			return true
		}
	}
	return false
}

func newIntent(taskRef int64, kind model.IntentKind, recipient string, at time.Time) model.NotificationIntent {
	return model.NotificationIntent{
		ID:        uuid.NewString(),
		TaskRef:   taskRef,
		Kind:      kind,
		Recipient: recipient,
		CreatedAt: at,
	}
}
