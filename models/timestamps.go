package models

import (
	"time"

	"github.com/depictio/depictio/common"
)

// TimestampLayout is the canonical storage form for entity timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// NormalizeTimestamp converts an ISO-8601 (or already-canonical) timestamp
// string into the canonical storage form. Returns an invalid-time error for
// anything unparseable.
func NormalizeTimestamp(value string) (string, error) {
	if value == "" {
		return "", common.NewError(common.ErrInvalidTime, "timestamp is empty", "")
	}

	layouts := []string{
		TimestampLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(TimestampLayout), nil
		}
	}
	return "", common.Errorf(common.ErrInvalidTime, "", "invalid datetime format: %q", value)
}

// FormatTimestamp renders a time.Time in the canonical storage form.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
