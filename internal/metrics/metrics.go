// Package metrics provides Prometheus metrics for LeadVault.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsProcessed counts ingested rows by kind and outcome (valid|invalid).
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadvault",
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Rows processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// RowRetries counts infrastructural write failures that were retried.
	RowRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadvault",
			Subsystem: "ingest",
			Name:      "row_retries_total",
			Help:      "Row writes retried after an infrastructural failure",
		},
		[]string{"kind"},
	)

	// BatchesFinished counts batches by kind and terminal status.
	BatchesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadvault",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Batches that reached a terminal status",
		},
		[]string{"kind", "status"},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "leadvault",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Wall time from batch start to terminal status",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	// Transitions counts lifecycle calls by kind, action and result.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadvault",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions attempted",
		},
		[]string{"kind", "action", "result"},
	)

	// Assignments counts assignment attempts by subject kind and result.
	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadvault",
			Subsystem: "assignment",
			Name:      "created_total",
			Help:      "Assignment attempts by subject kind and result",
		},
		[]string{"subject_kind", "result"},
	)

	// SweepRuns counts sweep triggers (ran|skipped|failed).
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadvault",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Dedup sweep triggers by result",
		},
		[]string{"result"},
	)

	// SweepFlagChanges counts duplicate flags written by the sweep.
	SweepFlagChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadvault",
			Subsystem: "sweep",
			Name:      "flag_changes_total",
			Help:      "Duplicate flags set or cleared by the sweep",
		},
		[]string{"kind", "flag"},
	)
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
