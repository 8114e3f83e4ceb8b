package protocol

import (
	"fmt"
	"strings"
	"time"
)

// wireLayouts covers ISO-8601 with or without a fractional-seconds
// component and with or without a timezone suffix, per spec.md §4.1.
var wireLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Time wraps time.Time with a decoder tolerant of the fractional-second
// and timezone-suffix variations the protocol allows on the wire, and
// an encoder that always emits RFC 3339 with microsecond precision.
type Time struct {
	time.Time
}

func NewTime(t time.Time) Time {
	return Time{Time: t}
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.UTC().Format("2006-01-02T15:04:05.000000Z") + `"`), nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range wireLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("protocol: parse timestamp %q: %w", raw, lastErr)
}
