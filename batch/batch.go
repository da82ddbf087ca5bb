package batch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/colbench/memory"
)

const nullLen = ^uint32(0)

// ErrReleased is returned when a released batch is accessed.
var ErrReleased = errors.New("batch: released")

// ColumnarBatch is a block of rows whose payload lives in tracked pool memory.
//
// The payload is row-major: each row stores, per column, a little-endian
// uint32 length followed by that many bytes. Length 0xFFFFFFFF marks null.
type ColumnarBatch struct {
	seq     int
	cols    int
	offsets []int // start of each row in data, plus the end
	data    []byte
	pool    *memory.Pool

	released atomic.Bool
}

// EncodedSize returns the payload size of rows with cols columns.
func EncodedSize(cols int, rows [][][]byte) int {
	n := 0
	for _, r := range rows {
		n += 4 * cols
		for _, v := range r {
			n += len(v)
		}
	}
	return n
}

// New builds a batch from rows of column values, allocating the payload from
// pool. A nil value is null. Every row must have cols values.
func New(pool *memory.Pool, seq, cols int, rows [][][]byte) (*ColumnarBatch, error) {
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("batch: row %d has %d columns, want %d", i, len(r), cols)
		}
	}

	data, err := pool.Allocate(EncodedSize(cols, rows))
	if err != nil {
		return nil, err
	}

	b := &ColumnarBatch{
		seq:     seq,
		cols:    cols,
		offsets: make([]int, 0, len(rows)+1),
		data:    data,
		pool:    pool,
	}

	off := 0
	for _, r := range rows {
		b.offsets = append(b.offsets, off)
		for _, v := range r {
			if v == nil {
				binary.LittleEndian.PutUint32(data[off:], nullLen)
				off += 4
				continue
			}
			binary.LittleEndian.PutUint32(data[off:], uint32(len(v)))
			off += 4
			off += copy(data[off:], v)
		}
	}
	b.offsets = append(b.offsets, off)

	return b, nil
}

// Seq returns the position of the batch in its iterator's output.
func (b *ColumnarBatch) Seq() int { return b.seq }

// NumRows returns the number of rows.
func (b *ColumnarBatch) NumRows() int { return len(b.offsets) - 1 }

// NumColumns returns the number of columns.
func (b *ColumnarBatch) NumColumns() int { return b.cols }

// Bytes returns the encoded payload. It is valid until Release.
func (b *ColumnarBatch) Bytes() []byte { return b.data }

// Size returns the tracked payload size in bytes.
func (b *ColumnarBatch) Size() int64 { return int64(cap(b.data)) }

// Row returns the encoded bytes of row i.
func (b *ColumnarBatch) Row(i int) []byte {
	return b.data[b.offsets[i]:b.offsets[i+1]]
}

// Value returns column col of row i; ok is false for null.
func (b *ColumnarBatch) Value(i, col int) (v []byte, ok bool) {
	return DecodeValue(b.Row(i), col)
}

// DecodeValue returns column col of an encoded row; ok is false for null
// or a malformed row.
func DecodeValue(row []byte, col int) ([]byte, bool) {
	off := 0
	for c := 0; ; c++ {
		if off+4 > len(row) {
			return nil, false
		}
		n := binary.LittleEndian.Uint32(row[off:])
		off += 4
		if n == nullLen {
			if c == col {
				return nil, false
			}
			continue
		}
		if off+int(n) > len(row) {
			return nil, false
		}
		if c == col {
			return row[off : off+int(n)], true
		}
		off += int(n)
	}
}

// Release returns the payload to the pool. It is safe to call more than once.
func (b *ColumnarBatch) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	b.pool.Free(b.data)
	b.data = nil
	b.offsets = b.offsets[:1]
	b.offsets[0] = 0
}

// Released reports whether Release was called.
func (b *ColumnarBatch) Released() bool { return b.released.Load() }

// Each calls fn for every encoded row in order. It stops at the first error.
func (b *ColumnarBatch) Each(fn func(i int, row []byte) error) error {
	if b.Released() {
		return ErrReleased
	}
	for i := 0; i < b.NumRows(); i++ {
		if err := fn(i, b.Row(i)); err != nil {
			return err
		}
	}
	return nil
}
