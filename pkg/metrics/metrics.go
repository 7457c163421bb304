// Package metrics provides the Prometheus registry and HTTP handler for the
// census ETL. All metrics are defined in their respective packages (client,
// cache, ratelimit, census, sink, pipeline) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the ETL.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered in Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - census_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status ("cache" for cache hits)
//   - census_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - census_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - census_retries_total{error_class} (Counter): Retry attempts by error class
//   - census_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - census_retry_exhausted_total{error_class} (Counter): Requests that exhausted max attempts
//
// Rate Limit Metrics (pkg/ratelimit):
//   - census_rate_limit_pauses_total (Counter): Pause windows opened by 429 responses
//   - census_rate_limit_wait_seconds (Histogram): Time spent waiting for the limiter or a pause window
//
// Cache Metrics (pkg/cache):
//   - census_cache_hits_total (Counter): Cache hits
//   - census_cache_misses_total (Counter): Cache misses
//   - census_cache_size_bytes (Gauge): Bytes written to the cache
//   - census_cache_errors_total{operation} (Counter): Cache operation errors (get, set, delete, decode, validate)
//
// Fetch Metrics (pkg/census):
//   - census_units_total{outcome} (Counter): Unit queries by outcome (ok, empty, failed)
//   - census_rows_total (Counter): Block group rows fetched
//
// Pipeline Metrics (pkg/pipeline):
//   - census_groups_total{status} (Counter): Groups by final status
//   - census_group_duration_seconds (Histogram): Time per group
//   - census_groups_in_flight (Gauge): Groups currently being processed
//
// Sink Metrics (pkg/sink):
//   - census_sink_writes_total{sink, status} (Counter): Table writes by sink and outcome
//   - census_sink_rows_total{sink} (Counter): Rows written by sink
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(census_cache_hits_total[5m])) /
//   (sum(rate(census_cache_hits_total[5m])) + sum(rate(census_cache_misses_total[5m])))
//
//   # Retry Rate by Class
//   sum by (error_class) (rate(census_retries_total[5m]))
//
//   # Failed Units
//   increase(census_units_total{outcome="failed"}[1h])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(census_request_duration_seconds_bucket[5m]))
