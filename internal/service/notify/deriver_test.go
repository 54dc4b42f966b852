package notify

import (
	"testing"

	"tasksync/internal/model"
)

func TestDeriveFirstCreate(t *testing.T) {
	cur := &model.Task{LocalID: 1, Name: "new", Status: model.StatusTodo}
	kind, ok := Derive(nil, cur)
	if !ok || kind != model.IntentCreated {
		t.Fatalf("Derive(nil, cur) = %s, %v", kind, ok)
	}
}

func TestDeriveCompletionWinsOverOtherChanges(t *testing.T) {
	prev := &model.Task{LocalID: 1, Name: "report", Status: model.StatusInProgress}
	cur := &model.Task{LocalID: 1, Name: "report (final)", Status: model.StatusComplete}

	kind, ok := Derive(prev, cur)
	if !ok {
		t.Fatal("expected an intent for completion")
	}
	if kind != model.IntentCompleted {
		t.Fatalf("expected exactly one completed intent, got %s", kind)
	}
}

func TestDeriveUpdatedOnFieldChange(t *testing.T) {
	prev := &model.Task{LocalID: 1, Name: "report", Status: model.StatusTodo, DueAt: 1000}
	cur := &model.Task{LocalID: 1, Name: "report", Status: model.StatusTodo, DueAt: 2000}

	kind, ok := Derive(prev, cur)
	if !ok || kind != model.IntentUpdated {
		t.Fatalf("Derive = %s, %v; want updated", kind, ok)
	}
}

func TestDeriveNothingWhenUnchanged(t *testing.T) {
	a := &model.Task{LocalID: 1, Name: "same", Status: model.StatusTodo,
		CustomFields: []model.CustomField{{Name: "Phone", Value: "+1555"}}}
	b := &model.Task{LocalID: 1, Name: "same", Status: model.StatusTodo,
		CustomFields: []model.CustomField{{Name: "Phone", Value: "+1555"}}}

	if kind, ok := Derive(a, b); ok {
		t.Fatalf("unexpected intent %s for identical tasks", kind)
	}
}

func TestDeriveAlreadyCompleteStaysQuietOnRename(t *testing.T) {
	prev := &model.Task{LocalID: 1, Name: "done", Status: model.StatusComplete}
	cur := &model.Task{LocalID: 1, Name: "done!", Status: model.StatusComplete}

	kind, ok := Derive(prev, cur)
	if !ok || kind != model.IntentUpdated {
		t.Fatalf("rename of a complete task should be updated, got %s, %v", kind, ok)
	}
}

func TestResolverDirectoryLookup(t *testing.T) {
	r := NewResolver(map[string]string{"user-7": "+5215512345678"})

	got := r.Resolve(&model.Task{AssigneeRef: "user-7"})
	if got != "+5215512345678" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolverPhoneFieldFallback(t *testing.T) {
	r := NewResolver(nil)

	got := r.Resolve(&model.Task{
		AssigneeRef:  "user-unknown",
		CustomFields: []model.CustomField{{Name: "WhatsApp Number", Value: "+1555000"}},
	})
	if got != "+1555000" {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestResolverNoAddressMeansNone(t *testing.T) {
	r := NewResolver(map[string]string{"user-7": "+1555"})

	if got := r.Resolve(&model.Task{AssigneeRef: "user-9"}); got != "" {
		t.Fatalf("Resolve = %q, want empty", got)
	}
	if got := r.Resolve(&model.Task{}); got != "" {
		t.Fatalf("Resolve = %q, want empty", got)
	}
}
