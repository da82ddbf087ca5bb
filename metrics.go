package colbench

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting benchmark metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordIteration is called after each pipeline run with the rows and
	// batches it produced.
	RecordIteration(rows, batches int64, duration time.Duration, err error)

	// RecordMitigation is called after each mitigation pass.
	RecordMitigation(freed int64, duration time.Duration, err error)

	// RecordSpill is called for each finished shuffle that spilled.
	RecordSpill(spills, bytes int64, duration time.Duration)

	// RecordMemoryUsage is called with the budget usage at the end of a pipeline.
	RecordMemoryUsage(used, peak int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIteration(int64, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordMitigation(int64, time.Duration, error)       {}
func (NoopMetricsCollector) RecordSpill(int64, int64, time.Duration)            {}
func (NoopMetricsCollector) RecordMemoryUsage(int64, int64)                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	IterationCount      atomic.Int64
	IterationErrors     atomic.Int64
	IterationTotalNanos atomic.Int64
	Rows                atomic.Int64
	Batches             atomic.Int64
	MitigationCount     atomic.Int64
	MitigationErrors    atomic.Int64
	FreedBytes          atomic.Int64
	SpillCount          atomic.Int64
	SpilledBytes        atomic.Int64
	PeakBytes           atomic.Int64
}

// RecordIteration implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIteration(rows, batches int64, duration time.Duration, err error) {
	b.IterationCount.Add(1)
	b.IterationTotalNanos.Add(duration.Nanoseconds())
	b.Rows.Add(rows)
	b.Batches.Add(batches)
	if err != nil {
		b.IterationErrors.Add(1)
	}
}

// RecordMitigation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMitigation(freed int64, duration time.Duration, err error) {
	b.MitigationCount.Add(1)
	b.FreedBytes.Add(freed)
	if err != nil {
		b.MitigationErrors.Add(1)
	}
}

// RecordSpill implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSpill(spills, bytes int64, duration time.Duration) {
	b.SpillCount.Add(spills)
	b.SpilledBytes.Add(bytes)
}

// RecordMemoryUsage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMemoryUsage(used, peak int64) {
	for cur := b.PeakBytes.Load(); peak > cur; cur = b.PeakBytes.Load() {
		if b.PeakBytes.CompareAndSwap(cur, peak) {
			return
		}
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		IterationCount:    b.IterationCount.Load(),
		IterationErrors:   b.IterationErrors.Load(),
		IterationAvgNanos: b.getAvgIterationNanos(),
		Rows:              b.Rows.Load(),
		Batches:           b.Batches.Load(),
		MitigationCount:   b.MitigationCount.Load(),
		MitigationErrors:  b.MitigationErrors.Load(),
		FreedBytes:        b.FreedBytes.Load(),
		SpillCount:        b.SpillCount.Load(),
		SpilledBytes:      b.SpilledBytes.Load(),
		PeakBytes:         b.PeakBytes.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgIterationNanos() int64 {
	count := b.IterationCount.Load()
	if count == 0 {
		return 0
	}
	return b.IterationTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	IterationCount    int64
	IterationErrors   int64
	IterationAvgNanos int64
	Rows              int64
	Batches           int64
	MitigationCount   int64
	MitigationErrors  int64
	FreedBytes        int64
	SpillCount        int64
	SpilledBytes      int64
	PeakBytes         int64
}
