// Package metrics defines the prometheus metrics of the interrupt servicing
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricComponentLabelKey is the key for the component of the metric.
	MetricComponentLabelKey = "nvswitchd_component"

	SubSystem = "nvswitch"
)

var (
	componentLabel = prometheus.Labels{
		MetricComponentLabelKey: "nvswitch-interrupts",
	}

	errorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "",
			Subsystem: SubSystem,
			Name:      "error_events_total",
			Help:      "tracks the error events reported per block and severity",
		},
		[]string{MetricComponentLabelKey, "block", "severity"},
	).MustCurryWith(componentLabel)

	passes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "",
			Subsystem: SubSystem,
			Name:      "interrupt_passes_total",
			Help:      "tracks the interrupt servicing passes per aggregate result",
		},
		[]string{MetricComponentLabelKey, "result"},
	).MustCurryWith(componentLabel)

	unhandledBits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "",
			Subsystem: SubSystem,
			Name:      "unhandled_bits_total",
			Help:      "tracks the pending bits no fault table entry matched",
		},
		[]string{MetricComponentLabelKey, "tree"},
	).MustCurryWith(componentLabel)

	containments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "",
			Subsystem: SubSystem,
			Name:      "containments_total",
			Help:      "tracks report enable narrowing per block and path (direct, offload, leaf)",
		},
		[]string{MetricComponentLabelKey, "block", "path"},
	).MustCurryWith(componentLabel)

	deferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "",
			Subsystem: SubSystem,
			Name:      "deferred_outcomes_total",
			Help:      "tracks the outcomes of deferred link error checks",
		},
		[]string{MetricComponentLabelKey, "outcome"},
	).MustCurryWith(componentLabel)

	recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "",
			Subsystem: SubSystem,
			Name:      "link_recoveries_total",
			Help:      "tracks the link reset and drain requests per outcome",
		},
		[]string{MetricComponentLabelKey, "outcome"},
	).MustCurryWith(componentLabel)

	sinkDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "",
			Subsystem: SubSystem,
			Name:      "sink_dropped_total",
			Help:      "tracks the log sink records dropped because the queue was full",
		},
	)
)

// Register registers all collectors with reg.
func Register(reg *prometheus.Registry) error {
	for _, c := range []prometheus.Collector{
		errorEvents,
		passes,
		unhandledBits,
		containments,
		deferred,
		recoveries,
		sinkDropped,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func RecordEvent(block string, severity string) {
	errorEvents.WithLabelValues(block, severity).Inc()
}

func RecordPass(result string) {
	passes.WithLabelValues(result).Inc()
}

func RecordUnhandled(tree string, n int) {
	unhandledBits.WithLabelValues(tree).Add(float64(n))
}

// Containment paths.
const (
	PathDirect  = "direct"
	PathOffload = "offload"
	PathLeaf    = "leaf"
)

func RecordContainment(block string, path string) {
	containments.WithLabelValues(block, path).Inc()
}

// Deferred outcomes.
const (
	OutcomeEmitted   = "emitted"
	OutcomeDiscarded = "discarded"
	OutcomeRearmed   = "rearmed"
	OutcomeCancelled = "cancelled"
)

func RecordDeferred(outcome string) {
	deferred.WithLabelValues(outcome).Inc()
}

// Recovery outcomes.
const (
	RecoveryReset    = "reset"
	RecoveryExternal = "external"
	RecoveryFailed   = "failed"
)

func RecordRecovery(outcome string) {
	recoveries.WithLabelValues(outcome).Inc()
}

func RecordSinkDropped() {
	sinkDropped.Inc()
}
