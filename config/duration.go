package config

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration parses a non-negative duration string. Empty means zero.
// path names the field in error messages.
func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// mustDuration is for fields already checked by Validate.
func mustDuration(raw string) time.Duration {
	d, _ := parseDuration("", raw)
	return d
}
