package bench

import (
	"time"
)

// Result is the measurement of one pipeline run.
type Result struct {
	Iteration int `json:"iteration"`
	Thread    int `json:"thread"`
	CPU       int `json:"cpu"`

	Rows        int64         `json:"rows"`
	Batches     int64         `json:"batches"`
	Bytes       int64         `json:"bytes"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	RowsPerSec  float64       `json:"rows_per_sec"`
	BytesPerSec float64       `json:"bytes_per_sec"`

	PeakBytes         int64 `json:"peak_bytes"`
	Crossings         int64 `json:"crossings"`
	FailedMitigations int64 `json:"failed_mitigations"`
	FreedBytes        int64 `json:"freed_bytes"`
	Reloads           int64 `json:"reloads"`

	Spills       int64 `json:"spills"`
	SpilledBytes int64 `json:"spilled_bytes"`
	ShuffleBytes int64 `json:"shuffle_bytes"`

	Err string `json:"error,omitempty"`
}

func (r *Result) finish(elapsed time.Duration) {
	r.Elapsed = elapsed
	if s := elapsed.Seconds(); s > 0 {
		r.RowsPerSec = float64(r.Rows) / s
		r.BytesPerSec = float64(r.Bytes) / s
	}
}

// Report collects the results of a run.
type Report struct {
	RunID       string        `json:"run_id"`
	Backend     string        `json:"backend"`
	Started     time.Time     `json:"started"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	MemoryLimit int64         `json:"memory_limit"`
	Threads     int           `json:"threads"`
	Iterations  int           `json:"iterations"`
	Shuffle     bool          `json:"shuffle"`
	Codec       string        `json:"codec,omitempty"`
	Results     []Result      `json:"results"`
	Err         string        `json:"error,omitempty"`
}

// Totals aggregates the results of a report.
type Totals struct {
	Pipelines    int
	Failed       int
	Rows         int64
	Bytes        int64
	PeakBytes    int64
	Crossings    int64
	Spills       int64
	SpilledBytes int64
	RowsPerSec   float64
}

// Totals sums the per-pipeline results. RowsPerSec is measured over the
// wall-clock time of the whole run.
func (r *Report) Totals() Totals {
	var t Totals
	for _, res := range r.Results {
		t.Pipelines++
		if res.Err != "" {
			t.Failed++
		}
		t.Rows += res.Rows
		t.Bytes += res.Bytes
		t.PeakBytes = max(t.PeakBytes, res.PeakBytes)
		t.Crossings += res.Crossings
		t.Spills += res.Spills
		t.SpilledBytes += res.SpilledBytes
	}
	if s := r.Elapsed.Seconds(); s > 0 {
		t.RowsPerSec = float64(t.Rows) / s
	}
	return t
}

// Progress is a snapshot of a running benchmark.
type Progress struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Rows      int64  `json:"rows"`
}
