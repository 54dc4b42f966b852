package mapper

import (
	"sort"

	"github.com/spf13/cast"

	"tasksync/internal/model"
)

// NormalizeCustomFields accepts the custom-field shapes seen at the
// boundary — a name->value mapping or a sequence of name/value pairs,
// with inconsistent key casing — and emits the one canonical internal
// shape: an ordered slice of string-valued fields. Map input is ordered
// by name so output is deterministic. Unknown shapes yield nil.
func NormalizeCustomFields(v any) []model.CustomField {
	switch val := v.(type) {
	case nil:
		return nil
	case []model.CustomField:
		out := make([]model.CustomField, len(val))
		copy(out, val)
		return out
	case map[string]string:
		return fromMap(val)
	case map[string]any:
		m := make(map[string]string, len(val))
		for k, raw := range val {
			m[k] = cast.ToString(raw)
		}
		return fromMap(m)
	case []any:
		var out []model.CustomField
		for _, item := range val {
			pair, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name := cast.ToString(firstOf(pair, "name", "Name", "field", "id"))
			if name == "" {
				continue
			}
			out = append(out, model.CustomField{
				Name:  name,
				Value: cast.ToString(firstOf(pair, "value", "Value")),
			})
		}
		return out
	default:
		return nil
	}
}

func fromMap(m map[string]string) []model.CustomField {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]model.CustomField, 0, len(names))
	for _, name := range names {
		out = append(out, model.CustomField{Name: name, Value: m[name]})
	}
	return out
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}
