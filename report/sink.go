// Package report writes benchmark results to sinks.
package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/colbench/bench"
)

// Sink receives the report of a finished run.
type Sink interface {
	Name() string
	Write(ctx context.Context, r *bench.Report) error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

// Name implements Sink.
func (Multi) Name() string { return "multi" }

// Write implements Sink. A failing sink does not stop the others.
func (m Multi) Write(ctx context.Context, r *bench.Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("report sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds a connection.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// pipelineKey orders results by iteration, then thread.
func pipelineKey(res bench.Result) string {
	return fmt.Sprintf("%04d#%04d", res.Iteration, res.Thread)
}
