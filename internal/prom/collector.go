// Package prom exports benchmark metrics to Prometheus.
package prom

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/colbench"
)

const namespace = "colbench"

// Collector implements colbench.MetricsCollector with Prometheus metrics.
type Collector struct {
	iterations        *prometheus.CounterVec
	iterationDuration prometheus.Histogram
	rows              prometheus.Counter
	batches           prometheus.Counter

	mitigations        *prometheus.CounterVec
	mitigationDuration prometheus.Histogram
	freedBytes         prometheus.Counter

	spills       prometheus.Counter
	spilledBytes prometheus.Counter
	spillSeconds prometheus.Counter

	memoryUsed prometheus.Gauge
	memoryPeak prometheus.Gauge
	peak       atomic.Int64
}

var _ colbench.MetricsCollector = (*Collector)(nil)

// NewCollector creates the collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Pipeline runs by status",
		}, []string{"status"}),

		iterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),

		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows produced by scan iterators",
		}),

		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches produced by scan iterators",
		}),

		mitigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mitigations_total",
			Help:      "Memory mitigation passes by status",
		}, []string{"status"}),

		mitigationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mitigation_duration_seconds",
			Help:      "Memory mitigation pass duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		freedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mitigation_freed_bytes_total",
			Help:      "Bytes reported freed by mitigation passes",
		}),

		spills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spills_total",
			Help:      "Shuffle partition spills",
		}),

		spilledBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spilled_bytes_total",
			Help:      "Buffered shuffle bytes released by spills",
		}),

		spillSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spill_seconds_total",
			Help:      "Time spent spilling",
		}),

		memoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_used_bytes",
			Help:      "Budget usage at the end of the last pipeline",
		}),

		memoryPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_peak_bytes",
			Help:      "Highest budget usage observed",
		}),
	}

	reg.MustRegister(
		c.iterations, c.iterationDuration, c.rows, c.batches,
		c.mitigations, c.mitigationDuration, c.freedBytes,
		c.spills, c.spilledBytes, c.spillSeconds,
		c.memoryUsed, c.memoryPeak,
	)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordIteration implements colbench.MetricsCollector.
func (c *Collector) RecordIteration(rows, batches int64, duration time.Duration, err error) {
	c.iterations.WithLabelValues(status(err)).Inc()
	c.iterationDuration.Observe(duration.Seconds())
	c.rows.Add(float64(rows))
	c.batches.Add(float64(batches))
}

// RecordMitigation implements colbench.MetricsCollector.
func (c *Collector) RecordMitigation(freed int64, duration time.Duration, err error) {
	c.mitigations.WithLabelValues(status(err)).Inc()
	c.mitigationDuration.Observe(duration.Seconds())
	if freed > 0 {
		c.freedBytes.Add(float64(freed))
	}
}

// RecordSpill implements colbench.MetricsCollector.
func (c *Collector) RecordSpill(spills, bytes int64, duration time.Duration) {
	c.spills.Add(float64(spills))
	c.spilledBytes.Add(float64(bytes))
	c.spillSeconds.Add(duration.Seconds())
}

// RecordMemoryUsage implements colbench.MetricsCollector.
func (c *Collector) RecordMemoryUsage(used, peak int64) {
	c.memoryUsed.Set(float64(used))
	for {
		cur := c.peak.Load()
		if peak <= cur {
			return
		}
		if c.peak.CompareAndSwap(cur, peak) {
			c.memoryPeak.Set(float64(peak))
			return
		}
	}
}
