// Package metrics defines and registers all custom Prometheus metrics for the
// storefront client. It is the single source of truth for metric names, labels,
// and help strings.
//
// Metrics are registered with the default Prometheus registry on package init
// (promauto); the sync daemon exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// ── Gateway metrics ───────────────────────────────────────────────────────────

// GatewayRequestsTotal counts finished gateway calls.
// Labels:
//   - endpoint: catalog name of the endpoint (e.g. "cart.list")
//   - outcome: "ok" or the failure kind (e.g. "auth_failure_hard", "network_failure")
var GatewayRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_requests_total",
		Help:      "Total number of backend calls issued through the gateway, by outcome.",
	},
	[]string{"endpoint", "outcome"},
)

// GatewayRequestDuration measures a single HTTP attempt.
// Label:
//   - endpoint: catalog name of the endpoint
var GatewayRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Duration of a single backend attempt, including envelope decoding.",
		Buckets:   prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
	},
	[]string{"endpoint"},
)

// GatewaySoftRetriesTotal counts soft-auth retries.
// Labels:
//   - endpoint: catalog name of the endpoint
//   - result: "recovered" (retry succeeded) or "swallowed" (default returned)
var GatewaySoftRetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_soft_retries_total",
		Help:      "Total number of one-shot retries after a soft 401, by result.",
	},
	[]string{"endpoint", "result"},
)

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionTeardownsTotal counts session teardowns.
// Label:
//   - reason: "logout", "hard_401", "identity_401", "expired_token"
var SessionTeardownsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_teardowns_total",
		Help:      "Total number of times the local session was cleared, by reason.",
	},
	[]string{"reason"},
)

// ── Cart metrics ──────────────────────────────────────────────────────────────

// CartResyncsTotal counts full cart resyncs.
// Label:
//   - result: "applied", "discarded" (superseded), "error"
var CartResyncsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_resyncs_total",
		Help:      "Total number of full cart resyncs, by result.",
	},
	[]string{"result"},
)

// CartTotalsDivergenceTotal counts resyncs whose server-reported totals differed from
// the locally derived ones.
var CartTotalsDivergenceTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_totals_divergence_total",
		Help:      "Resyncs where server totals did not match the totals derived from the lines.",
	},
)

// ── Order metrics ─────────────────────────────────────────────────────────────

// OrderTransitionsTotal counts locally applied order status changes.
// Label:
//   - status: the new status (e.g. "CANCELLED")
var OrderTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_transitions_total",
		Help:      "Total number of order status transitions applied to the local mirror.",
	},
	[]string{"status"},
)

// RefreshQueueDepth tracks pending refresh jobs per dispatcher worker.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var RefreshQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "refresh_queue_depth",
		Help:      "Current number of refresh jobs pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)
