// Package ratelimit tracks backend rate-limit windows announced through
// 429 responses and the Retry-After header, and gates requests until a window
// has passed. State is shared through Redis when available so that concurrent
// export runs against the same backend back off together.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RedisKeyPrefix prefixes the per-host block window keys.
const RedisKeyPrefix = "cardclient:rate_limit:"

// Bounds applied to announced windows.
const (
	// DefaultRetryAfter is used for a 429 without a usable Retry-After header.
	DefaultRetryAfter = 5 * time.Second

	// MaxRetryAfter caps windows so a misbehaving backend cannot stall a run forever.
	MaxRetryAfter = 5 * time.Minute
)

// Window is the rate-limit state of a single backend host.
type Window struct {
	// Host is the backend host the window applies to.
	Host string `json:"host"`

	// BlockedUntil is the instant after which requests may be sent again.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when the window was recorded.
	LastUpdate time.Time `json:"last_update"`
}

// Active reports whether the window still blocks requests at now.
func (w *Window) Active(now time.Time) bool {
	return w != nil && now.Before(w.BlockedUntil)
}

// Remaining returns how long the window stays active. Returns 0 once passed.
func (w *Window) Remaining(now time.Time) time.Duration {
	if w == nil {
		return 0
	}
	d := w.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RedisKey returns the Redis key for a host.
func RedisKey(host string) string {
	return RedisKeyPrefix + strings.ToLower(host)
}

// ParseRetryAfter interprets a Retry-After header given either as delay
// seconds or as an HTTP date. Unusable values fall back to DefaultRetryAfter.
func ParseRetryAfter(headers http.Header, now time.Time) time.Duration {
	value := strings.TrimSpace(headers.Get("Retry-After"))
	if value == "" {
		return DefaultRetryAfter
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return DefaultRetryAfter
	}

	if d < 0 {
		return 0
	}
	if d > MaxRetryAfter {
		return MaxRetryAfter
	}
	return d
}
