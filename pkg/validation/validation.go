package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const MaxIDLength = 128

// IDRegex accepts room, peer and session identifiers as issued by the
// signalling layer.
var IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ValidateID checks an identifier taken from a URL path. field names it in
// the error.
func ValidateID(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > MaxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", field, MaxIDLength)
	}
	if !IDRegex.MatchString(value) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	return nil
}

// ParseLimit parses an optional positive page size. An empty value yields
// def; values above max are clamped.
func ParseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be a number")
	}
	if n <= 0 {
		return 0, fmt.Errorf("limit must be > 0")
	}
	if n > max {
		n = max
	}
	return n, nil
}
