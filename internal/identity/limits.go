package identity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxSessionTimeoutMinutes caps a profile's session timeout at one year.
const MaxSessionTimeoutMinutes = 365 * 24 * 60

// CreatedDateLayouts are the accepted spellings of a profile's created date:
// full RFC 3339 timestamps and the bare dates date pickers submit.
var CreatedDateLayouts = []string{time.RFC3339Nano, "2006-01-02"}

// ParseCreatedDate parses raw with CreatedDateLayouts. An empty string
// yields the zero time.
func ParseCreatedDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range CreatedDateLayouts {
		if v, err := time.Parse(layout, raw); err == nil {
			return v.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

// ParseMinutes parses a whole number of minutes written as a JSON number
// or a numeric string. Fractions and values beyond MaxSessionTimeoutMinutes
// are rejected.
func ParseMinutes(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("not a whole number of minutes: %s", raw)
	}
	if math.Abs(v) > MaxSessionTimeoutMinutes {
		return 0, fmt.Errorf("session timeout %s exceeds %d minutes", raw, MaxSessionTimeoutMinutes)
	}
	return int(v), nil
}

func validateSessionTimeout(minutes int) error {
	if minutes < 1 || minutes > MaxSessionTimeoutMinutes {
		return invalidInput("session timeout must be between 1 and %d minutes", MaxSessionTimeoutMinutes)
	}
	return nil
}

// validateProfileFields applies the rules shared by CreateAccount and
// UpdateAccount. Names must already be trimmed.
func validateProfileFields(username, firstName, lastName string, minutes int, perms []string) ([]string, error) {
	if username == "" || firstName == "" || lastName == "" {
		return nil, invalidInput("username, first name and last name are required")
	}
	if err := validateSessionTimeout(minutes); err != nil {
		return nil, err
	}
	normalized, err := NormalizePermissions(perms)
	if err != nil {
		return nil, err
	}
	if len(normalized) == 0 {
		return nil, invalidInput("at least one permission is required")
	}
	return normalized, nil
}
