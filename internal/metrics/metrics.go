// Package metrics implements Prometheus metrics for the job engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueuedTotal counts jobs pushed onto a queue, by kind.
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netscan_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by kind (scan|firmware)",
		},
		[]string{"kind"},
	)

	// JobsActive tracks jobs currently being processed by this worker.
	JobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netscan_jobs_active",
			Help: "Number of jobs currently running, by kind",
		},
		[]string{"kind"},
	)

	// JobsCompletedTotal counts terminal job outcomes.
	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netscan_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: completed|failed|cancelled
	)

	// StageDurationSeconds measures per-stage wall-clock latency.
	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netscan_stage_duration_seconds",
			Help:    "Latency of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16), // 100ms to ~54min
		},
		[]string{"kind", "stage"},
	)

	// ToolInvocationsTotal counts external tool invocations by outcome.
	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netscan_tool_invocations_total",
			Help: "Total number of external tool invocations, by tool and outcome",
		},
		[]string{"tool", "outcome"}, // outcome: ok|nonzero_exit|timeout|start_failed|wait_failed
	)

	// QueueDepth tracks the observed length of a substrate queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netscan_queue_depth",
			Help: "Observed depth of a scheduler substrate queue",
		},
		[]string{"queue"},
	)

	// HostsDiscoveredTotal counts hosts discovered across all scans.
	HostsDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netscan_hosts_discovered_total",
			Help: "Total number of hosts discovered across completed scans",
		},
		[]string{},
	)

	// SkippedDeepScanTotal counts hosts skipped at stage 4 by the
	// skip-unchanged optimization.
	SkippedDeepScanTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netscan_skipped_deep_scan_total",
			Help: "Total number of hosts skipped at the deep-scan stage via skip-unchanged",
		},
	)
)
