// Package metrics exposes Prometheus instrumentation for the tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FixesEvaluated counts raw fixes run through the acceptance filter.
	FixesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_fixes_evaluated_total",
			Help: "Raw fixes evaluated by the acceptance filter",
		},
		[]string{"source", "decision"}, // decision: accept, reject
	)

	FixesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_fixes_accepted_total",
			Help: "Accepted fixes by reason",
		},
		[]string{"reason"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_deliveries_total",
			Help: "Delivery bridge hand-offs by bridge and result",
		},
		[]string{"bridge", "result"}, // result: ok, error
	)

	SubscriptionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_subscription_errors_total",
			Help: "Sources that rejected a subscription request",
		},
		[]string{"source"},
	)

	SessionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_session_state",
			Help: "Tracking session state (0=stopped 1=starting 2=running 3=stopping)",
		},
	)

	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_sessions_started_total",
			Help: "Session start attempts by result",
		},
		[]string{"result"}, // ok, permission, aborted, error
	)

	FixesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_fixes_received_total",
			Help: "Fixes produced by each source before filtering",
		},
		[]string{"source"},
	)

	SourceOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracker_source_online",
			Help: "Whether a location source is currently able to produce fixes",
		},
		[]string{"source"},
	)

	OneShotResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_oneshot_results_total",
			Help: "One-shot location requests by outcome",
		},
		[]string{"outcome"}, // cached, live, timeout, permission, no_provider, error
	)
)

// RecordEvaluation records one filter decision.
func RecordEvaluation(source string, accepted bool, reason string) {
	if !accepted {
		FixesEvaluated.WithLabelValues(source, "reject").Inc()
		return
	}
	FixesEvaluated.WithLabelValues(source, "accept").Inc()
	FixesAccepted.WithLabelValues(reason).Inc()
}

// RecordDelivery records one bridge hand-off.
func RecordDelivery(bridge string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Deliveries.WithLabelValues(bridge, result).Inc()
}
