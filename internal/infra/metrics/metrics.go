// Package metrics provides Prometheus metrics for binvis batches:
// planning, per-task outcomes, transfer volume, extraction and conversion.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Planning ───────────────────────────────────────────────────────────────

// TasksPlanned counts tasks emitted by the planner.
var TasksPlanned = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "binvis",
	Name:      "tasks_planned_total",
	Help:      "Total tasks emitted by the planner.",
})

// TasksSkipped counts tasks pruned because an artifact already existed.
var TasksSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "binvis",
	Name:      "tasks_skipped_total",
	Help:      "Total tasks skipped because an artifact already exists.",
})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksCompleted tracks successful tasks by category.
var TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "binvis",
	Name:      "tasks_completed_total",
	Help:      "Total successfully processed tasks.",
}, []string{"category"})

// TasksFailed tracks failed tasks by category and reason.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "binvis",
	Name:      "tasks_failed_total",
	Help:      "Total failed tasks.",
}, []string{"category", "reason"})

// TasksActive tracks tasks currently holding a governor slot.
var TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "binvis",
	Name:      "tasks_active",
	Help:      "Number of tasks currently in flight.",
})

// TaskDuration tracks end-to-end pipeline time per task.
var TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "binvis",
	Name:      "task_duration_seconds",
	Help:      "Fetch, verify and extract duration per task.",
	Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
})

// ─── Transfer ───────────────────────────────────────────────────────────────

// DownloadBytes counts archive bytes written to disk.
var DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "binvis",
	Name:      "download_bytes_total",
	Help:      "Total archive bytes downloaded.",
})

// ─── Post-processing ────────────────────────────────────────────────────────

// ExtractDuration tracks time spent unpacking one archive.
var ExtractDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "binvis",
	Name:      "extract_duration_seconds",
	Help:      "Archive extraction duration.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// Conversions counts columnar conversions by result (ok, failed).
var Conversions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "binvis",
	Name:      "conversions_total",
	Help:      "Total tabular conversions.",
}, []string{"result"})
