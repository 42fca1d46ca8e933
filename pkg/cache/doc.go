// Package cache provides a Redis-backed response cache for single-record
// lookups against the identity APIs, such as card detail requests made for
// every row of an extended export.
//
// Entries live for a configured TTL unless the backend sends a shorter
// Cache-Control max-age or forbids caching with no-store.
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Namespace: "card",
//		Endpoint:  "/v1beta1/cards/5a9e.../",
//		Principal: clientID,
//	}
//
//	data, err := manager.GetOrFetch(ctx, key, func(ctx context.Context) (*cache.CacheEntry, error) {
//		resp, err := apiClient.Send(ctx, spec)
//		if err != nil {
//			return nil, err
//		}
//		return cache.EntryFromResponse(resp, 15*time.Minute), nil
//	})
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - cardclient_cache_hits_total{layer="redis"} - Cache hits
//   - cardclient_cache_misses_total - Cache misses
//   - cardclient_cache_size_bytes{layer="redis"} - Bytes written to and read from the cache
//   - cardclient_cache_errors_total{operation} - Cache operation errors
//
// Cache errors never fail a lookup; the backend is queried instead.
package cache
