package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix starts every cache key.
const KeyPrefix = "cardclient"

// CacheKey represents a unique identifier for a cached API response.
type CacheKey struct {
	// Namespace names the API (e.g., "card")
	Namespace string

	// Endpoint is the request path (e.g., "/v1beta1/cards/{id}/")
	Endpoint string

	// QueryParams are the query parameters
	QueryParams url.Values

	// Principal identifies the credentials the response was fetched with.
	// Responses are never shared across principals.
	Principal string
}

// String generates a deterministic cache key string.
// Format: cardclient:namespace:endpoint:query1=val1:principal=abc
//
// Example:
//
//	cardclient:card:v1beta1/cards/5a9e:fetch=cardNotes:principal=client-1
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if k.Namespace != "" {
		parts = append(parts, k.Namespace)
	}

	// Add endpoint (normalize path)
	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Add query params (sorted for determinism)
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			values := append([]string(nil), k.QueryParams[key]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(values, ",")))
		}
	}

	if k.Principal != "" {
		parts = append(parts, "principal="+k.Principal)
	}

	return strings.Join(parts, ":")
}
