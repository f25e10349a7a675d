package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts detection events by outcome.
	// Labels: outcome (applied, od_skipped, failed)
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classroom",
			Subsystem: "attendance",
			Name:      "events_ingested_total",
			Help:      "Detection events processed by the aggregator",
		},
		[]string{"outcome"},
	)

	// PenaltiesApplied counts penalties deducted from engagement scores.
	PenaltiesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classroom",
			Subsystem: "attendance",
			Name:      "penalties_applied_total",
			Help:      "Penalties applied by signal type",
		},
		[]string{"signal"},
	)

	// PenaltiesDebounced counts signals suppressed by the debounce window.
	PenaltiesDebounced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classroom",
			Subsystem: "attendance",
			Name:      "penalties_debounced_total",
			Help:      "Signals suppressed because the same type was recorded recently",
		},
		[]string{"signal"},
	)

	// VersionConflicts counts optimistic update retries.
	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "classroom",
			Subsystem: "attendance",
			Name:      "version_conflicts_total",
			Help:      "Record updates retried after losing a version race",
		},
	)

	// RollupsRecomputed counts daily rollup rows written.
	RollupsRecomputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "classroom",
			Subsystem: "attendance",
			Name:      "rollups_recomputed_total",
			Help:      "Daily attendance rows recomputed",
		},
	)
)
