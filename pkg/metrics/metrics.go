// Package metrics exposes the Prometheus metrics of the card client.
// All metrics are defined in their respective packages (client, auth, cache,
// ratelimit, pagination, reconcile, export) and registered via promauto;
// this package serves them and documents what is available.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the card client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - cardclient_requests_total{host, status} (Counter): Requests by host and HTTP status
//   - cardclient_request_duration_seconds{host} (Histogram): Request duration by host
//   - cardclient_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - cardclient_retries_total (Counter): Retry attempts
//   - cardclient_retry_backoff_seconds (Histogram): Backoff waited between attempts
//   - cardclient_retry_exhausted_total (Counter): Operations that exhausted their attempts
//
// Token Metrics (pkg/auth):
//   - cardclient_token_exchanges_total{result} (Counter): Credential exchanges by result
//   - cardclient_token_cache_hits_total (Counter): Token lookups served from memory
//
// Rate Limit Metrics (pkg/ratelimit):
//   - cardclient_rate_limit_windows_total{host} (Counter): 429 windows announced by backends
//   - cardclient_rate_limit_wait_seconds{host} (Histogram): Time spent waiting for windows
//
// Cache Metrics (pkg/cache):
//   - cardclient_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - cardclient_cache_misses_total (Counter): Cache misses
//   - cardclient_cache_size_bytes{layer="redis"} (Gauge): Bytes moved through the cache
//   - cardclient_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pagination and Export Metrics:
//   - cardclient_pages_fetched_total (Counter): Pages read from list endpoints
//   - cardclient_reconciled_rows_total{outcome} (Counter): Rows by added/updated/removed/unchanged
//   - cardclient_export_rows_total{export} (Counter): Rows written per export kind
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(cardclient_cache_hits_total[5m])) /
//   (sum(rate(cardclient_cache_hits_total[5m])) + sum(rate(cardclient_cache_misses_total[5m])))
//
//   # Request Error Rate
//   rate(cardclient_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(cardclient_request_duration_seconds_bucket[5m]))
