package shuffle

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hupe1980/colbench/batch"
	"github.com/hupe1980/colbench/blobstore"
	"github.com/hupe1980/colbench/internal/fs"
	"github.com/hupe1980/colbench/memory"
)

// ErrStopped is returned when a stopped writer is used.
var ErrStopped = errors.New("shuffle: writer stopped")

// Metrics describes a finished shuffle.
type Metrics struct {
	DataFile          string
	PartitionLengths  []int64
	RowsWritten       int64
	RawBytes          int64 // uncompressed row bytes
	BytesWritten      int64 // data file size
	SpillCount        int64
	SpilledBytes      int64 // buffered bytes released by spills
	SpilledPartitions []uint32
	SpillTime         time.Duration
	CompressTime      time.Duration
	WriteTime         time.Duration
}

type spillFile struct {
	name string
	size int64
}

type partition struct {
	bufs   [][]byte
	size   int64
	spills []spillFile
}

// Writer partitions batches into per-partition buffers held in tracked pool
// memory and writes them to a single data file on Stop.
//
// Writer implements memory.Reclaimer: Reclaim spills the largest partition
// buffers to the spill store.
//
// Each partition's region of the data file is a sequence of blocks (see
// ReadPartition) holding length-prefixed encoded rows.
type Writer struct {
	id       string
	pool     *memory.Pool
	part     Partitioner
	dataFile string
	opts     options

	mu      sync.Mutex
	parts   []partition
	spilled *roaring.Bitmap
	stopped bool

	rows         atomic.Int64
	raw          atomic.Int64
	spillCount   atomic.Int64
	spilledBytes atomic.Int64
	spillTime    atomic.Int64
	compressTime atomic.Int64
}

var _ memory.Reclaimer = (*Writer)(nil)

// NewWriter creates a writer over partitions partitions whose data file is
// dataFile.
func NewWriter(pool *memory.Pool, dataFile string, partitions int, optFns ...Option) (*Writer, error) {
	opts := options{
		partitioner: "roundrobin",
		fs:          fs.Default,
		logger:      zap.NewNop(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	part, err := NewPartitioner(opts.partitioner, partitions)
	if err != nil {
		return nil, err
	}
	if dataFile == "" {
		return nil, errors.New("shuffle: empty data file path")
	}
	if opts.store == nil {
		opts.store = blobstore.NewLocalStore([]string{filepath.Dir(dataFile)}, blobstore.WithFileSystem(opts.fs))
	}

	return &Writer{
		id:       uuid.NewString(),
		pool:     pool,
		part:     part,
		dataFile: dataFile,
		opts:     opts,
		parts:    make([]partition, part.NumPartitions()),
		spilled:  roaring.New(),
	}, nil
}

// NumPartitions returns the number of output partitions.
func (w *Writer) NumPartitions() int { return len(w.parts) }

// Write routes the rows of b to their partitions. b is not released.
func (w *Writer) Write(ctx context.Context, b *batch.ColumnarBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	staged := make([][]byte, len(w.parts))
	var rows int64
	err := b.Each(func(_ int, row []byte) error {
		p := w.part.Partition(row)
		staged[p] = binary.LittleEndian.AppendUint32(staged[p], uint32(len(row)))
		staged[p] = append(staged[p], row...)
		rows++
		return nil
	})
	if err != nil {
		return err
	}

	for p, data := range staged {
		if len(data) == 0 {
			continue
		}

		// Allocate before locking: the allocation may spill this writer.
		buf, err := w.pool.Allocate(len(data))
		if err != nil {
			return err
		}
		copy(buf, data)

		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			w.pool.Free(buf)
			return ErrStopped
		}
		w.parts[p].bufs = append(w.parts[p].bufs, buf)
		w.parts[p].size += int64(len(buf))
		w.mu.Unlock()

		w.raw.Add(int64(len(data)))
	}

	w.rows.Add(rows)
	return nil
}

// Buffered returns the bytes held in partition buffers.
func (w *Writer) Buffered() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var n int64
	for i := range w.parts {
		n += w.parts[i].size
	}
	return n
}

// SpillCount returns the number of spills so far.
func (w *Writer) SpillCount() int64 { return w.spillCount.Load() }

// Reclaim implements memory.Reclaimer by spilling the largest partitions
// until target bytes were released.
func (w *Writer) Reclaim(ctx context.Context, target int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return 0, nil
	}

	order := make([]int, len(w.parts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return w.parts[order[a]].size > w.parts[order[b]].size
	})

	var freed int64
	for _, p := range order {
		if freed >= target || w.parts[p].size == 0 {
			break
		}
		n, err := w.spillLocked(ctx, p)
		freed += n
		if err != nil {
			return freed, err
		}
	}
	return freed, nil
}

func (w *Writer) spillLocked(ctx context.Context, p int) (int64, error) {
	if err := w.opts.controller.AcquireSpill(ctx); err != nil {
		return 0, err
	}
	defer w.opts.controller.ReleaseSpill()

	start := time.Now()
	part := &w.parts[p]
	name := fmt.Sprintf("spill-%s-p%05d-%04d", w.id, p, len(part.spills))

	blob, err := w.opts.store.Create(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("spill partition %d: %w", p, err)
	}

	bw := newBlockWriter(w.opts.controller.SpillWriter(ctx, blob), w.opts.codec, w.opts.blockSize)
	if err := writeBufs(bw, part.bufs); err != nil {
		_ = blobstore.Abort(blob)
		return 0, fmt.Errorf("spill partition %d: %w", p, err)
	}
	if err := blob.Close(); err != nil {
		return 0, fmt.Errorf("spill partition %d: %w", p, err)
	}

	freed := part.size
	for _, buf := range part.bufs {
		w.pool.Free(buf)
	}
	part.bufs = nil
	part.size = 0
	part.spills = append(part.spills, spillFile{name: name, size: bw.written})
	w.spilled.Add(uint32(p))

	elapsed := time.Since(start)
	w.spillCount.Add(1)
	w.spilledBytes.Add(freed)
	w.spillTime.Add(int64(elapsed))
	w.compressTime.Add(int64(bw.encodeTime))

	w.opts.logger.Debug("partition spilled",
		zap.Int("partition", p),
		zap.String("blob", name),
		zap.Int64("freed", freed),
		zap.Int64("written", bw.written),
		zap.Duration("duration", elapsed),
	)
	return freed, nil
}

func writeBufs(bw *blockWriter, bufs [][]byte) error {
	for _, buf := range bufs {
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Stop writes every partition, spilled blocks first, to the data file and
// releases all buffers. The writer cannot be used afterwards.
func (w *Writer) Stop(ctx context.Context) (*Metrics, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil, ErrStopped
	}
	w.stopped = true

	start := time.Now()
	lengths, written, err := w.writeDataFile(ctx)
	w.releaseLocked(ctx)
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		DataFile:          w.dataFile,
		PartitionLengths:  lengths,
		RowsWritten:       w.rows.Load(),
		RawBytes:          w.raw.Load(),
		BytesWritten:      written,
		SpillCount:        w.spillCount.Load(),
		SpilledBytes:      w.spilledBytes.Load(),
		SpilledPartitions: w.spilled.ToArray(),
		SpillTime:         time.Duration(w.spillTime.Load()),
		CompressTime:      time.Duration(w.compressTime.Load()),
		WriteTime:         time.Since(start),
	}

	w.opts.logger.Info("shuffle written",
		zap.String("data_file", m.DataFile),
		zap.Int64("rows", m.RowsWritten),
		zap.Int64("bytes", m.BytesWritten),
		zap.Int64("spills", m.SpillCount),
	)
	return m, nil
}

func (w *Writer) writeDataFile(ctx context.Context) ([]int64, int64, error) {
	f, err := w.opts.fs.OpenFile(w.dataFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("create data file: %w", err)
	}

	out := bufio.NewWriter(f)
	lengths := make([]int64, len(w.parts))
	var total int64

	for p := range w.parts {
		part := &w.parts[p]

		for _, s := range part.spills {
			n, err := w.copySpill(ctx, out, s)
			lengths[p] += n
			if err != nil {
				_ = f.Close()
				return nil, 0, fmt.Errorf("merge spill %s: %w", s.name, err)
			}
		}

		bw := newBlockWriter(out, w.opts.codec, w.opts.blockSize)
		if err := writeBufs(bw, part.bufs); err != nil {
			_ = f.Close()
			return nil, 0, fmt.Errorf("write partition %d: %w", p, err)
		}
		w.compressTime.Add(int64(bw.encodeTime))
		lengths[p] += bw.written
		total += lengths[p]
	}

	if err := out.Flush(); err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return lengths, total, f.Close()
}

// copySpill appends a spilled blob to out. Blocks are copied as stored.
func (w *Writer) copySpill(ctx context.Context, out io.Writer, s spillFile) (int64, error) {
	blob, err := w.opts.store.Open(ctx, s.name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = blob.Close() }()

	rc, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	return io.Copy(out, w.opts.controller.RestoreReader(ctx, rc))
}

// releaseLocked frees buffers and deletes spill blobs.
func (w *Writer) releaseLocked(ctx context.Context) {
	for p := range w.parts {
		part := &w.parts[p]
		for _, buf := range part.bufs {
			w.pool.Free(buf)
		}
		for _, s := range part.spills {
			if err := w.opts.store.Delete(ctx, s.name); err != nil {
				w.opts.logger.Warn("delete spill", zap.String("blob", s.name), zap.Error(err))
			}
		}
		*part = partition{}
	}
}

// Close releases buffers and spills without writing. It is a no-op after
// Stop.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	w.releaseLocked(context.Background())
	return nil
}

// ReadPartition returns the encoded rows of partition p of a data file.
func ReadPartition(path string, lengths []int64, p int, codec Codec) ([][]byte, error) {
	if p < 0 || p >= len(lengths) {
		return nil, fmt.Errorf("partition %d out of range", p)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var off int64
	for _, n := range lengths[:p] {
		off += n
	}
	r := bufio.NewReader(io.NewSectionReader(f, off, lengths[p]))

	var data bytes.Buffer
	for {
		block, err := readBlock(r, codec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		data.Write(block)
	}

	var rows [][]byte
	buf := data.Bytes()
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, errCorruptBlock
		}
		n := int(binary.LittleEndian.Uint32(buf))
		buf = buf[4:]
		if n > len(buf) {
			return nil, errCorruptBlock
		}
		rows = append(rows, buf[:n])
		buf = buf[n:]
	}
	return rows, nil
}
