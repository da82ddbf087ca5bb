package batch

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/colbench/memory"
	"github.com/hupe1980/colbench/plan"
	"github.com/hupe1980/colbench/split"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("batch: iterator closed")

// ErrUnsupportedFormat is returned when a backend cannot read a split format.
var ErrUnsupportedFormat = errors.New("batch: unsupported split format")

// Iterator produces batches. Next returns io.EOF when exhausted.
// The caller owns returned batches and must Release them.
type Iterator interface {
	Next(ctx context.Context) (*ColumnarBatch, error)
	Close() error
}

// Backend opens iterators over the splits of a plan.
type Backend interface {
	Name() string
	Open(ctx context.Context, p *plan.Plan, splits *split.Info, pool *memory.Pool) (Iterator, error)
}

// Drain consumes it, calling fn for each batch before releasing it.
// It returns the number of rows and batches seen.
func Drain(ctx context.Context, it Iterator, fn func(*ColumnarBatch) error) (rows, batches int64, err error) {
	for {
		b, err := it.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rows, batches, nil
			}
			return rows, batches, err
		}

		rows += int64(b.NumRows())
		batches++

		if fn != nil {
			err = fn(b)
		}
		b.Release()
		if err != nil {
			return rows, batches, err
		}
	}
}
