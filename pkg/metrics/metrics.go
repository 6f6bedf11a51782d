// Package metrics provides the central Prometheus registry reference
// for the batch proxy. All metrics are defined in their respective
// packages (graph, ratelimit) to maintain modularity and avoid
// circular dependencies.
//
// This package documents the available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the batch proxy.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Batch Call Metrics (pkg/graph):
//   - graph_batch_requests_total{outcome} (Counter): Batch calls by outcome
//     (success, invalid_input, transport_error, protocol_error, api_error, internal_error)
//   - graph_batch_request_duration_seconds (Histogram): Batch call duration
//   - graph_batch_size (Histogram): Sub-requests per batch call
//   - graph_sub_requests_total{status} (Counter): Sub-request outcomes by HTTP
//     status, plus null / malformed / bad_body markers
//
// Rate Limit Telemetry (pkg/ratelimit):
//   - graph_app_usage_pct (Gauge): Highest app-level Insights usage in the last batch
//   - graph_account_usage_pct{account} (Gauge): Account-level Insights usage
//   - graph_account_eta_seconds{account} (Gauge): Estimated seconds until access returns
//
// Example Prometheus Queries:
//
//   # Batch error rate
//   sum(rate(graph_batch_requests_total{outcome!="success"}[5m])) /
//   sum(rate(graph_batch_requests_total[5m]))
//
//   # Accounts close to lockout
//   graph_account_usage_pct > 90
//
//   # Throttled accounts
//   graph_account_eta_seconds > 0
//
//   # P95 batch latency
//   histogram_quantile(0.95, rate(graph_batch_request_duration_seconds_bucket[5m]))
