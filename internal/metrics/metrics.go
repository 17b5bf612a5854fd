// Package metrics exposes Prometheus counters and histograms for the
// coordinator, registered against a caller-supplied Registerer rather than
// the global default so tests and multiple coordinator instances can use
// isolated registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles every metric the coordinator emits.
type Set struct {
	AttemptsTotal        *prometheus.CounterVec
	QuorumOutcomesTotal  *prometheus.CounterVec
	DispatchLatency      *prometheus.HistogramVec
	PerspectiveFailures  *prometheus.CounterVec
}

// NewSet registers the coordinator's metrics against registerer and returns
// the handles used to record observations.
func NewSet(registerer prometheus.Registerer) *Set {
	factory := promauto.With(registerer)

	return &Set{
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpic",
			Subsystem: "coordinator",
			Name:      "attempts_total",
			Help:      "Number of cohort attempts made, by check type.",
		}, []string{"check_type"}),

		QuorumOutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpic",
			Subsystem: "coordinator",
			Name:      "quorum_outcomes_total",
			Help:      "Final quorum outcome per request, by check type and result.",
		}, []string{"check_type", "result"}),

		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mpic",
			Subsystem: "dispatcher",
			Name:      "dispatch_latency_seconds",
			Help:      "Wall-clock time to collect all perspective responses for one attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"check_type"}),

		PerspectiveFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpic",
			Subsystem: "dispatcher",
			Name:      "perspective_failures_total",
			Help:      "Remote call failures per perspective, converted to coordinator_communication_error.",
		}, []string{"perspective"}),
	}
}
