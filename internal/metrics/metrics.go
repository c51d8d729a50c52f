// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WindowsScanned counts scanned block windows per chain
	WindowsScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_windows_scanned_total",
		Help: "Number of block windows scanned",
	}, []string{"chain"})

	// TransfersApplied counts transfer events applied to the ownership index
	TransfersApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_transfers_applied_total",
		Help: "Number of transfer events applied",
	}, []string{"chain"})

	// EventsDropped counts events dropped for missing or duplicate log indexes
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_events_dropped_total",
		Help: "Number of transfer events dropped instead of silently merged",
	}, []string{"chain", "reason"})

	// PositionsEvaluated counts evaluated positions per chain and kind
	PositionsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_positions_evaluated_total",
		Help: "Number of positions evaluated",
	}, []string{"chain", "kind"})

	// EvaluationFailures counts positions whose evaluation was skipped
	EvaluationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_evaluation_failures_total",
		Help: "Number of position evaluations that failed",
	}, []string{"chain", "kind"})

	// AlertsEmitted counts emitted notifications by alert type and phase
	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_emitted_total",
		Help: "Number of alert notifications emitted",
	}, []string{"type", "phase"})

	// QueueWalkSteps observes sorted-list walk lengths
	QueueWalkSteps = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_queue_walk_steps",
		Help:    "Nodes visited per redemption queue walk",
		Buckets: prometheus.ExponentialBuckets(10, 4, 6),
	}, []string{"chain"})

	// LastRunUnix records the completion time of the last scan-and-evaluate run
	LastRunUnix = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_last_run_timestamp_seconds",
		Help: "Unix time of the last completed run",
	})
)
