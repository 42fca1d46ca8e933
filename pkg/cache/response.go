package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/cardclient/pkg/client"
)

// DefaultTTL is the entry lifetime used when none is configured.
const DefaultTTL = 15 * time.Minute

// EntryFromResponse converts an API response to a CacheEntry living for ttl.
// A shorter Cache-Control max-age wins; no-store yields an already expired
// entry, which Set ignores.
func EntryFromResponse(resp *client.Response, ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Data:       resp.Body,
		StatusCode: resp.StatusCode,
		Expires:    now.Add(lifetime(resp.Header, ttl)),
		CachedAt:   now,
	}
}

// lifetime derives the entry lifetime from Cache-Control, bounded by ttl.
func lifetime(headers http.Header, ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	for _, directive := range strings.Split(headers.Get("Cache-Control"), ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		switch {
		case directive == "no-store" || directive == "no-cache":
			return 0
		case strings.HasPrefix(directive, "max-age="):
			secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
			if err != nil || secs < 0 {
				continue
			}
			if maxAge := time.Duration(secs) * time.Second; maxAge < ttl {
				return maxAge
			}
		}
	}
	return ttl
}
