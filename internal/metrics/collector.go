// Package metrics exposes prometheus instrumentation for the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/voxsync/voxsync/internal/types"
)

// Collector collects and exposes sync metrics.
type Collector struct {
	operationsTotal *prometheus.CounterVec
	passesTotal     *prometheus.CounterVec
	skippedTotal    *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	passDuration    prometheus.Histogram
}

// New creates a metrics collector registered on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxsync_operations_total",
				Help: "Total number of operations dispatched, by outcome",
			},
			[]string{"outcome"},
		),
		passesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxsync_sync_passes_total",
				Help: "Total number of sync passes, by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		skippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxsync_sync_skipped_total",
				Help: "Sync triggers suppressed without running a pass, by reason",
			},
			[]string{"reason"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voxsync_queue_depth",
				Help: "Number of queued operations, by status",
			},
			[]string{"status"},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voxsync_sync_pass_duration_seconds",
				Help:    "Time taken by a queue-processing pass",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(c.operationsTotal)
	reg.MustRegister(c.passesTotal)
	reg.MustRegister(c.skippedTotal)
	reg.MustRegister(c.queueDepth)
	reg.MustRegister(c.passDuration)

	return c
}

// RecordPass records a completed sync pass and its per-operation outcomes.
func (c *Collector) RecordPass(trigger string, result types.SyncResult, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.passesTotal.WithLabelValues(trigger, outcome).Inc()
	c.passDuration.Observe(elapsed.Seconds())

	c.operationsTotal.WithLabelValues("success").Add(float64(result.SuccessCount))
	c.operationsTotal.WithLabelValues("failed").Add(float64(result.FailedCount))
	c.operationsTotal.WithLabelValues("conflict").Add(float64(result.ConflictCount))
}

// RecordSkip records a suppressed trigger.
func (c *Collector) RecordSkip(reason string) {
	c.skippedTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth updates the per-status queue gauges.
func (c *Collector) SetQueueDepth(stats types.OperationStats) {
	c.queueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
	c.queueDepth.WithLabelValues("failed").Set(float64(stats.Failed))
	c.queueDepth.WithLabelValues("conflict").Set(float64(stats.Conflict))
	c.queueDepth.WithLabelValues("success").Set(float64(stats.Success))
}
