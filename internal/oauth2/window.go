package oauth2

import (
	"strconv"
	"strings"
	"time"

	"token-broker/internal/common/errors"
)

// ParseWindow reads a renewal window given as a Go duration ("2m") or a bare
// number of seconds ("120").
func ParseWindow(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, nil
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window < 0 {
		return 0, errors.ValidationError("invalid expiry window")
	}
	return window, nil
}
