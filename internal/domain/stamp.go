package domain

import (
	"fmt"
	"time"
)

// StampLayout is the wire serialization layout for timestamps. It is
// zero-padded and fixed-width so that lexicographic comparison of two
// serialized stamps is equivalent to chronological comparison.
const StampLayout = "2006-01-02T15:04:05.000000Z"

// FormatStamp serializes t in the fixed wire layout, always UTC.
func FormatStamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}

// ParseStamp parses a wire timestamp produced by FormatStamp.
func ParseStamp(s string) (time.Time, error) {
	t, err := time.Parse(StampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stamp %q: %w", s, err)
	}
	return t, nil
}
