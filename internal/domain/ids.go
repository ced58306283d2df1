package domain

import (
	"errors"
	"strings"
)

// ErrInvalidID is returned when a message, channel or guild identifier is
// not a non-empty string of decimal digits.
var ErrInvalidID = errors.New("identifier must be a non-empty decimal number")

// ParseMessageID validates a decimal snowflake and returns it in canonical
// form (no leading zeros, "0" for zero). Snowflakes are kept as strings so
// arbitrarily large values survive without precision loss.
func ParseMessageID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidID
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", ErrInvalidID
		}
	}
	return canonical(s), nil
}

// CompareIDs orders two decimal identifiers by numeric magnitude and returns
// -1, 0 or +1. Both arguments must already be digit strings; leading zeros
// are ignored.
func CompareIDs(a, b string) int {
	a, b = canonical(a), canonical(b)
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}

// OldestID returns the numerically smallest id of msgs, or "" when msgs is
// empty.
func OldestID(msgs []ChatMessage) string {
	oldest := ""
	for _, m := range msgs {
		if oldest == "" || CompareIDs(m.ID, oldest) < 0 {
			oldest = m.ID
		}
	}
	return oldest
}

func canonical(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" && s != "" {
		return "0"
	}
	return t
}
