package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errNonPositive = errors.New("duration must be > 0")

// parseDurationFlexible accepts Go duration strings ("3s", "1500ms"),
// plain seconds as a number or numeric string, or a time.Duration. Empty
// and unknown types return def; invalid or non-positive values return def
// and an error.
func parseDurationFlexible(raw any, def time.Duration) (time.Duration, error) {
	var d time.Duration
	switch t := raw.(type) {
	case time.Duration:
		d = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return def, nil
		}
		if parsed, err := time.ParseDuration(s); err == nil {
			d = parsed
		} else if n, err := strconv.ParseFloat(s, 64); err == nil {
			d = time.Duration(n * float64(time.Second))
		} else {
			return def, fmt.Errorf("cannot parse duration %q", s)
		}
	case int:
		d = time.Duration(t) * time.Second
	case int32:
		d = time.Duration(t) * time.Second
	case int64:
		d = time.Duration(t) * time.Second
	case float64:
		d = time.Duration(t * float64(time.Second))
	default:
		return def, nil
	}
	if d <= 0 {
		return def, errNonPositive
	}
	return d, nil
}
