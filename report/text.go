package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/colbench/bench"
)

// TextSink prints a result table.
type TextSink struct {
	w io.Writer
}

// NewTextSink creates a sink that prints to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

// Name implements Sink.
func (*TextSink) Name() string { return "text" }

// Write implements Sink.
func (s *TextSink) Write(_ context.Context, r *bench.Report) error {
	limit := "unlimited"
	if r.MemoryLimit > 0 {
		limit = humanize.IBytes(uint64(r.MemoryLimit))
	}
	shuffle := "off"
	if r.Shuffle {
		shuffle = r.Codec
	}
	if _, err := fmt.Fprintf(s.w, "run %s  backend=%s  limit=%s  threads=%d  iterations=%d  shuffle=%s\n\n",
		r.RunID, r.Backend, limit, r.Threads, r.Iterations, shuffle); err != nil {
		return err
	}

	results := append([]bench.Result(nil), r.Results...)
	sort.Slice(results, func(i, j int) bool {
		return pipelineKey(results[i]) < pipelineKey(results[j])
	})

	tw := tabwriter.NewWriter(s.w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ITER\tTHREAD\tROWS\tELAPSED\tROWS/S\tTHROUGHPUT\tPEAK\tCROSSINGS\tSPILLS\tSPILLED\t")
	for _, res := range results {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s/s\t%s\t%d\t%d\t%s\t",
			res.Iteration,
			res.Thread,
			humanize.Comma(res.Rows),
			res.Elapsed.Round(time.Millisecond),
			humanize.Comma(int64(res.RowsPerSec)),
			humanize.IBytes(uint64(res.BytesPerSec)),
			humanize.IBytes(uint64(res.PeakBytes)),
			res.Crossings,
			res.Spills,
			humanize.IBytes(uint64(res.SpilledBytes)),
		)
		if res.Err != "" {
			fmt.Fprintf(tw, " %s", res.Err)
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	t := r.Totals()
	_, err := fmt.Fprintf(s.w, "\n%d pipelines (%d failed), %s rows in %s, %s rows/s, peak %s, %d spills\n",
		t.Pipelines, t.Failed,
		humanize.Comma(t.Rows),
		r.Elapsed.Round(time.Millisecond),
		humanize.Comma(int64(t.RowsPerSec)),
		humanize.IBytes(uint64(t.PeakBytes)),
		t.Spills,
	)
	if err == nil && r.Err != "" {
		_, err = fmt.Fprintf(s.w, "run failed: %s\n", r.Err)
	}
	return err
}
