package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/hupe1980/colbench/memory"
	"github.com/hupe1980/colbench/plan"
	"github.com/hupe1980/colbench/split"
)

const (
	// DefaultBatchSize is the number of rows per batch when none is set.
	DefaultBatchSize = 4096
	// DefaultReadahead is the initial and maximum number of prefetched batches.
	DefaultReadahead = 4
)

// ScanBackend reads parquet splits directly.
type ScanBackend struct {
	BatchSize int
	Readahead int
	Logger    *zap.Logger
}

var _ Backend = (*ScanBackend)(nil)

// Name implements Backend.
func (*ScanBackend) Name() string { return "scan" }

// Open implements Backend. The plan is not interpreted; the scan reads every
// column of every split.
func (s *ScanBackend) Open(_ context.Context, _ *plan.Plan, splits *split.Info, pool *memory.Pool) (Iterator, error) {
	if splits == nil || len(splits.Items) == 0 {
		return nil, split.ErrNoSplits
	}
	if splits.Format != split.Parquet {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, splits.Format)
	}
	return NewScanIterator(splits.Items, pool, s.BatchSize, s.Readahead, s.Logger)
}

// chunk is a run of rows inside one row group; one chunk becomes one batch.
type chunk struct {
	file  int
	group int
	start int64
	rows  int64
}

type queued struct {
	idx int
	b   *ColumnarBatch
}

type scanFile struct {
	f  *os.File
	pf *parquet.File
}

// ScanIterator reads parquet splits in fixed-size batches and keeps a bounded
// queue of prefetched batches in tracked memory.
//
// It implements memory.Reclaimer: Reclaim drops prefetched batches, newest
// first, rewinds so they are read again later, and halves the readahead
// window. The window grows back by one for every batch the consumer takes.
type ScanIterator struct {
	pool    *memory.Pool
	logger  *zap.Logger
	files   []scanFile
	chunks  []chunk
	cols    int
	columns []string

	mu        sync.Mutex
	cursor    int
	queue     []queued
	window    int
	maxWindow int
	epoch     uint64
	closed    bool

	reclaimed atomic.Int64
	reloads   atomic.Int64
}

var _ memory.Reclaimer = (*ScanIterator)(nil)

// NewScanIterator opens the parquet files of items.
func NewScanIterator(items []split.Item, pool *memory.Pool, batchSize, readahead int, logger *zap.Logger) (*ScanIterator, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if readahead <= 0 {
		readahead = DefaultReadahead
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	it := &ScanIterator{
		pool:      pool,
		logger:    logger,
		window:    readahead,
		maxWindow: readahead,
		cols:      -1,
	}

	for i, item := range items {
		f, err := os.Open(item.Path)
		if err != nil {
			_ = it.Close()
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			_ = it.Close()
			return nil, err
		}
		pf, err := parquet.OpenFile(f, fi.Size())
		if err != nil {
			_ = f.Close()
			_ = it.Close()
			return nil, fmt.Errorf("open parquet %s: %w", item.Path, err)
		}
		it.files = append(it.files, scanFile{f: f, pf: pf})

		paths := pf.Schema().Columns()
		cols := len(paths)
		if it.cols == -1 {
			it.cols = cols
			for _, path := range paths {
				it.columns = append(it.columns, strings.Join(path, "."))
			}
		} else if cols != it.cols {
			_ = it.Close()
			return nil, fmt.Errorf("split %s has %d columns, want %d", item.Path, cols, it.cols)
		}

		whole := item.Start == 0 && item.Length >= fi.Size()
		for g, rg := range pf.RowGroups() {
			if !whole && !inRange(pf, g, item) {
				continue
			}
			n := rg.NumRows()
			for start := int64(0); start < n; start += int64(batchSize) {
				it.chunks = append(it.chunks, chunk{
					file:  i,
					group: g,
					start: start,
					rows:  min(int64(batchSize), n-start),
				})
			}
		}
	}

	return it, nil
}

// inRange reports whether row group g starts inside the item's byte range,
// so that adjacent splits of one file never read the same group twice.
func inRange(pf *parquet.File, g int, item split.Item) bool {
	md := pf.Metadata()
	if g >= len(md.RowGroups) || len(md.RowGroups[g].Columns) == 0 {
		return false
	}
	cm := md.RowGroups[g].Columns[0].MetaData
	off := cm.DataPageOffset
	if cm.DictionaryPageOffset > 0 && cm.DictionaryPageOffset < off {
		off = cm.DictionaryPageOffset
	}
	return off >= item.Start && off < item.Start+item.Length
}

// Columns returns the leaf column paths, in batch column order.
func (it *ScanIterator) Columns() []string { return it.columns }

// NumBatches returns the number of batches the iterator produces.
func (it *ScanIterator) NumBatches() int { return len(it.chunks) }

// Next returns the next batch, prefetching up to the readahead window.
func (it *ScanIterator) Next(ctx context.Context) (*ColumnarBatch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		it.mu.Lock()
		if it.closed {
			it.mu.Unlock()
			return nil, ErrClosed
		}

		if len(it.queue) < it.window && it.cursor < len(it.chunks) {
			idx := it.cursor
			it.cursor++
			epoch := it.epoch
			it.mu.Unlock()

			// Loading allocates from the pool and may re-enter Reclaim.
			b, err := it.load(idx)

			it.mu.Lock()
			if err != nil {
				it.cursor = min(it.cursor, idx)
				it.mu.Unlock()
				return nil, err
			}
			if it.epoch != epoch || it.closed {
				// A reclaim rewound the cursor while loading; this batch
				// would be out of order.
				it.cursor = min(it.cursor, idx)
				it.mu.Unlock()
				b.Release()
				it.reloads.Add(1)
				continue
			}
			it.queue = append(it.queue, queued{idx: idx, b: b})
			it.mu.Unlock()
			continue
		}

		if len(it.queue) == 0 {
			it.mu.Unlock()
			return nil, io.EOF
		}

		q := it.queue[0]
		it.queue = it.queue[1:]
		if it.window < it.maxWindow {
			it.window++
		}
		it.mu.Unlock()
		return q.b, nil
	}
}

func (it *ScanIterator) load(idx int) (*ColumnarBatch, error) {
	c := it.chunks[idx]
	rg := it.files[c.file].pf.RowGroups()[c.group]

	rows := rg.Rows()
	defer func() { _ = rows.Close() }()

	if err := rows.SeekToRow(c.start); err != nil {
		return nil, fmt.Errorf("seek row %d: %w", c.start, err)
	}

	buf := make([]parquet.Row, c.rows)
	read := 0
	for read < len(buf) {
		n, err := rows.ReadRows(buf[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read rows: %w", err)
		}
		if n == 0 {
			break
		}
	}

	values := make([][][]byte, read)
	for i, row := range buf[:read] {
		values[i] = rowValues(row, it.cols)
	}

	return New(it.pool, idx, it.cols, values)
}

// rowValues groups a parquet row by leaf column. Repeated values are
// concatenated; a column whose values are all null is null.
func rowValues(row parquet.Row, cols int) [][]byte {
	out := make([][]byte, cols)
	for _, v := range row {
		c := v.Column()
		if c < 0 || c >= cols || v.IsNull() {
			continue
		}
		if out[c] == nil {
			out[c] = make([]byte, 0, 8)
		}
		out[c] = append(out[c], v.Bytes()...)
	}
	return out
}

// Reclaim implements memory.Reclaimer.
func (it *ScanIterator) Reclaim(_ context.Context, target int64) (int64, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	var freed int64
	dropped := 0
	for len(it.queue) > 0 && freed < target {
		q := it.queue[len(it.queue)-1]
		it.queue = it.queue[:len(it.queue)-1]
		freed += q.b.Size()
		q.b.Release()
		it.cursor = min(it.cursor, q.idx)
		dropped++
	}
	if dropped > 0 {
		it.epoch++
	}
	it.window = max(1, it.window/2)
	it.reclaimed.Add(freed)

	it.logger.Debug("scan readahead reclaimed",
		zap.Int64("target", target),
		zap.Int64("freed", freed),
		zap.Int("dropped", dropped),
		zap.Int("window", it.window),
	)
	return freed, nil
}

// ReclaimedBytes returns the total bytes released by Reclaim.
func (it *ScanIterator) ReclaimedBytes() int64 { return it.reclaimed.Load() }

// Reloads returns how many loads were discarded because a Reclaim rewound
// the cursor while they ran.
func (it *ScanIterator) Reloads() int64 { return it.reloads.Load() }

// Window returns the current readahead window.
func (it *ScanIterator) Window() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.window
}

// Queued returns the number of prefetched batches.
func (it *ScanIterator) Queued() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.queue)
}

// Close releases queued batches and closes the files.
func (it *ScanIterator) Close() error {
	it.mu.Lock()
	queue := it.queue
	it.queue = nil
	wasClosed := it.closed
	it.closed = true
	it.mu.Unlock()

	if wasClosed {
		return nil
	}

	for _, q := range queue {
		q.b.Release()
	}

	var errs []error
	for _, f := range it.files {
		if err := f.f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
