package report

import (
	"context"
	"fmt"

	"github.com/hupe1980/colbench/bench"
	"github.com/hupe1980/colbench/codec"
	"github.com/hupe1980/colbench/internal/fs"
)

// JSONSink writes the report as indented JSON to a file.
type JSONSink struct {
	path string
	fs   fs.FileSystem
}

// NewJSONSink creates a sink writing to path.
func NewJSONSink(path string) *JSONSink {
	return &JSONSink{path: path, fs: fs.Default}
}

// Name implements Sink.
func (*JSONSink) Name() string { return "json" }

// Path returns the output file.
func (s *JSONSink) Path() string { return s.path }

// Write implements Sink. The file is replaced atomically.
func (s *JSONSink) Write(_ context.Context, r *bench.Report) error {
	data, err := codec.GoJSON{}.MarshalIndent(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return fs.WriteFileAtomic(s.fs, s.path, append(data, '\n'))
}
