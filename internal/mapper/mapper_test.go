package mapper

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"tasksync/internal/config"
	"tasksync/internal/model"
	"tasksync/internal/remote"
)

func newTestMapper(cfg config.MappingConfig) *Mapper {
	return New(cfg, zap.NewNop())
}

func TestParseInstant_TimezoneInvariance(t *testing.T) {
	want := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC).UnixMilli()

	inputs := []any{
		"2025-08-25",
		"2025-08-25T00:00:00Z",
		"2025-08-25 00:00:00",
		want,
		int(want),
		float64(want),
		want / 1000, // epoch seconds
		time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC),
	}
	for _, in := range inputs {
		got, err := ParseInstant(in)
		if err != nil {
			t.Fatalf("ParseInstant(%v): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseInstant(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestParseInstant_Unparsable(t *testing.T) {
	for _, in := range []any{"next tuesday", "", struct{}{}} {
		if _, err := ParseInstant(in); err == nil {
			t.Errorf("ParseInstant(%v): expected error", in)
		}
	}
}

func TestStatusMapping_RoundTrip(t *testing.T) {
	m := newTestMapper(config.MappingConfig{
		StatusMap: map[string]string{"in progress": "in_progress"},
	})

	task := m.FromRemote(remote.Record{ID: "r1", Name: "x", Status: "in progress"})
	if task.Status != model.StatusInProgress {
		t.Fatalf("normalized status = %q, want in_progress", task.Status)
	}
	if task.StatusRaw != "" {
		t.Fatalf("mapped status must not retain raw, got %q", task.StatusRaw)
	}

	p, err := m.ToRemote(task)
	if err != nil {
		t.Fatalf("ToRemote: %v", err)
	}
	if p.Status != "in progress" {
		t.Fatalf("remote status = %q, want %q", p.Status, "in progress")
	}
}

func TestStatusMapping_UnmappedFallsIntoOther(t *testing.T) {
	m := newTestMapper(config.MappingConfig{})

	task := m.FromRemote(remote.Record{ID: "r1", Status: "Blocked By Legal"})
	if task.Status != model.StatusOther {
		t.Fatalf("status = %q, want other", task.Status)
	}
	if task.StatusRaw != "Blocked By Legal" {
		t.Fatalf("raw status not retained: %q", task.StatusRaw)
	}

	p, err := m.ToRemote(task)
	if err != nil {
		t.Fatalf("ToRemote: %v", err)
	}
	if p.Status != "Blocked By Legal" {
		t.Fatalf("remote status = %q, want raw passthrough", p.Status)
	}
}

func TestToRemote_DueRawUnparsableIsMappingError(t *testing.T) {
	m := newTestMapper(config.MappingConfig{})

	_, err := m.ToRemote(model.Task{Name: "x", DueRaw: "mañana"})
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("expected MappingError, got %v", err)
	}
	if me.Field != "due_at" {
		t.Fatalf("field = %q", me.Field)
	}
}

func TestToRemote_DueRawParsedWhenCanonicalMissing(t *testing.T) {
	m := newTestMapper(config.MappingConfig{})

	p, err := m.ToRemote(model.Task{Name: "x", DueRaw: "2025-08-25"})
	if err != nil {
		t.Fatalf("ToRemote: %v", err)
	}
	want := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC).UnixMilli()
	if p.DueDate == nil || *p.DueDate != want {
		t.Fatalf("due = %v, want %d", p.DueDate, want)
	}
}

func TestToRemote_CustomFieldResolution(t *testing.T) {
	m := newTestMapper(config.MappingConfig{
		CustomFields: map[string]map[string]string{
			"list-1": {"Email": "field-email", "Celular": "field-phone"},
		},
	})

	task := model.Task{
		ListID: "list-1",
		Name:   "x",
		CustomFields: []model.CustomField{
			{Name: "email", Value: "a@b.c"},   // case-insensitive hit
			{Name: "Celular", Value: "+5215"}, // exact hit
			{Name: "Ghost", Value: "dropped"}, // no id known
		},
	}
	p, err := m.ToRemote(task)
	if err != nil {
		t.Fatalf("ToRemote: %v", err)
	}
	if len(p.CustomFields) != 2 {
		t.Fatalf("custom fields = %d, want 2 (%#v)", len(p.CustomFields), p.CustomFields)
	}
	if p.CustomFields[0].ID != "field-email" || p.CustomFields[1].ID != "field-phone" {
		t.Fatalf("unexpected field ids: %#v", p.CustomFields)
	}
}

func TestNormalizeCustomFields_Shapes(t *testing.T) {
	want := []model.CustomField{{Name: "Celular", Value: "+52155"}, {Name: "Email", Value: "a@b.c"}}

	got := NormalizeCustomFields(map[string]any{"Email": "a@b.c", "Celular": "+52155"})
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("map shape: got %#v", got)
	}

	got = NormalizeCustomFields([]any{
		map[string]any{"name": "Celular", "value": "+52155"},
		map[string]any{"name": "Email", "value": "a@b.c"},
	})
	if len(got) != 2 || got[0].Name != "Celular" || got[1].Value != "a@b.c" {
		t.Fatalf("pair shape: got %#v", got)
	}

	if got := NormalizeCustomFields(42); got != nil {
		t.Fatalf("unknown shape should yield nil, got %#v", got)
	}
}

// Round-trip law: FromRemote(ToRemote(t)) preserves status, priority and
// due date for any task the mapper can emit.
func TestRoundTripProperty(t *testing.T) {
	m := newTestMapper(config.MappingConfig{})

	statuses := []model.Status{model.StatusTodo, model.StatusInProgress, model.StatusComplete, model.StatusOther}

	rapid.Check(t, func(rt *rapid.T) {
		task := model.Task{Name: rapid.StringN(1, 40, 64).Draw(rt, "name")}
		task.Status = statuses[rapid.IntRange(0, len(statuses)-1).Draw(rt, "status")]
		if task.Status == model.StatusOther {
			task.StatusRaw = "raw-" + rapid.StringMatching(`[a-z]{1,12}`).Draw(rt, "raw")
		}
		task.Priority = rapid.IntRange(0, 4).Draw(rt, "priority")
		if rapid.Bool().Draw(rt, "hasDue") {
			task.DueAt = rapid.Int64Range(1e11, 4e12).Draw(rt, "due")
		}

		p, err := m.ToRemote(task)
		if err != nil {
			rt.Fatalf("ToRemote: %v", err)
		}

		rec := remote.Record{
			ID:       "r",
			Name:     p.Name,
			Status:   p.Status,
			Priority: p.Priority,
			DueDate:  p.DueDate,
		}
		back := m.FromRemote(rec)

		if back.Status != task.Status {
			rt.Fatalf("status drifted: %q -> %q", task.Status, back.Status)
		}
		if task.Status == model.StatusOther && back.StatusRaw != task.StatusRaw {
			rt.Fatalf("raw status drifted: %q -> %q", task.StatusRaw, back.StatusRaw)
		}
		if back.Priority != task.Priority {
			rt.Fatalf("priority drifted: %d -> %d", task.Priority, back.Priority)
		}
		if back.DueAt != task.DueAt {
			rt.Fatalf("due drifted: %d -> %d", task.DueAt, back.DueAt)
		}
	})
}
