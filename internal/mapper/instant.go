package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Accepted textual layouts, tried in order. Layouts without a zone are
// interpreted as UTC so the result never depends on the process timezone.
var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseInstant normalizes any supported due-date representation to epoch
// milliseconds UTC. Integers are taken as epoch milliseconds (values that
// look like epoch seconds are scaled up); date-only strings mean midnight
// UTC of that date.
func ParseInstant(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, fmt.Errorf("no value")
	case time.Time:
		return val.UnixMilli(), nil
	case int64:
		return normalizeEpoch(val), nil
	case int:
		return normalizeEpoch(int64(val)), nil
	case float64:
		return normalizeEpoch(int64(val)), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, fmt.Errorf("empty due value")
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return normalizeEpoch(ms), nil
		}
		for _, layout := range instantLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UnixMilli(), nil
			}
		}
		return 0, fmt.Errorf("unparsable due value %q", s)
	default:
		return 0, fmt.Errorf("unsupported due type %T", v)
	}
}

// normalizeEpoch scales epoch seconds up to milliseconds. Anything below
// 1e11 is before 1973-03 when read as milliseconds, so it must be seconds.
func normalizeEpoch(n int64) int64 {
	if n != 0 && n < 1e11 {
		return n * 1000
	}
	return n
}
