package batch

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbench/memory"
	"github.com/hupe1980/colbench/plan"
	"github.com/hupe1980/colbench/split"
	"github.com/hupe1980/colbench/testutil"
)

func dataset(t *testing.T, files, rowsPerFile, rowsPerGroup int) (*split.Info, []testutil.Row) {
	t.Helper()
	dir := t.TempDir()
	rows, err := testutil.Dataset(dir, testutil.NewRNG(42), files, rowsPerFile, rowsPerGroup)
	require.NoError(t, err)
	info, err := split.FromDirectory(dir, split.Parquet)
	require.NoError(t, err)
	return info, rows
}

func columnIndex(t *testing.T, it *ScanIterator, name string) int {
	t.Helper()
	for i, c := range it.Columns() {
		if c == name {
			return i
		}
	}
	t.Fatalf("column %s not found in %v", name, it.Columns())
	return -1
}

// drainIDs reads every batch and returns the id column in output order.
func drainIDs(t *testing.T, it *ScanIterator) []int64 {
	t.Helper()
	idCol := columnIndex(t, it, "id")

	var ids []int64
	_, _, err := Drain(context.Background(), it, func(b *ColumnarBatch) error {
		for i := 0; i < b.NumRows(); i++ {
			v, ok := b.Value(i, idCol)
			require.True(t, ok)
			ids = append(ids, int64(binary.LittleEndian.Uint64(v)))
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func wantIDs(rows []testutil.Row) []int64 {
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

func TestScanIterator_ReadsAllRowsInOrder(t *testing.T) {
	info, rows := dataset(t, 3, 250, 100)
	pool := memory.NewPool("scan", nil)

	it, err := NewScanIterator(info.Items, pool, 64, 3, nil)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	assert.Len(t, it.Columns(), 4)
	assert.Equal(t, wantIDs(rows), drainIDs(t, it))
	assert.Equal(t, int64(0), pool.Allocated())

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestScanIterator_NullsAndStrings(t *testing.T) {
	info, rows := dataset(t, 1, 20, 0)
	pool := memory.NewPool("scan", nil)

	it, err := NewScanIterator(info.Items, pool, 8, 2, nil)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	keyCol := columnIndex(t, it, "key")
	noteCol := columnIndex(t, it, "note")

	n := 0
	_, _, err = Drain(context.Background(), it, func(b *ColumnarBatch) error {
		for i := 0; i < b.NumRows(); i++ {
			want := rows[n]
			key, ok := b.Value(i, keyCol)
			require.True(t, ok)
			assert.Equal(t, want.Key, string(key))

			note, ok := b.Value(i, noteCol)
			if want.Note == nil {
				assert.False(t, ok)
			} else {
				require.True(t, ok)
				assert.Equal(t, *want.Note, string(note))
			}
			n++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, len(rows), n)
}

func TestScanIterator_ReclaimRewinds(t *testing.T) {
	info, rows := dataset(t, 2, 256, 64)
	pool := memory.NewPool("scan", nil)

	it, err := NewScanIterator(info.Items, pool, 32, 4, nil)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	idCol := columnIndex(t, it, "id")

	first, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first.Seq())
	assert.Equal(t, 3, it.Queued())

	held := pool.Allocated()
	freed, err := it.Reclaim(context.Background(), 1)
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.Equal(t, held-freed, pool.Allocated())
	assert.Equal(t, 2, it.Queued())
	assert.Equal(t, 2, it.Window())
	assert.Equal(t, freed, it.ReclaimedBytes())

	// Dropping more than is queued frees everything and keeps a window of one.
	_, err = it.Reclaim(context.Background(), 1<<40)
	require.NoError(t, err)
	assert.Equal(t, 0, it.Queued())
	assert.Equal(t, 1, it.Window())

	ids := make([]int64, 0, len(rows))
	for i := 0; i < first.NumRows(); i++ {
		v, ok := first.Value(i, idCol)
		require.True(t, ok)
		ids = append(ids, int64(binary.LittleEndian.Uint64(v)))
	}
	first.Release()

	ids = append(ids, drainIDs(t, it)...)
	assert.Equal(t, wantIDs(rows), ids)
	assert.Equal(t, int64(0), pool.Allocated())
}

func TestScanIterator_WindowRecovers(t *testing.T) {
	info, _ := dataset(t, 1, 512, 512)
	pool := memory.NewPool("scan", nil)

	it, err := NewScanIterator(info.Items, pool, 16, 4, nil)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	b, err := it.Next(context.Background())
	require.NoError(t, err)
	b.Release()

	_, err = it.Reclaim(context.Background(), 1<<40)
	require.NoError(t, err)
	assert.Equal(t, 2, it.Window())

	for i := 0; i < 4; i++ {
		b, err := it.Next(context.Background())
		require.NoError(t, err)
		b.Release()
	}
	assert.Equal(t, 4, it.Window())
}

func TestScanIterator_UnderBudget(t *testing.T) {
	info, rows := dataset(t, 2, 512, 128)

	// Measure the largest batch without a limit.
	probe, err := NewScanIterator(info.Items, memory.NewPool("probe", nil), 64, 4, nil)
	require.NoError(t, err)
	var largest int64
	_, _, err = Drain(context.Background(), probe, func(b *ColumnarBatch) error {
		largest = max(largest, b.Size())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, probe.Close())

	l, err := memory.NewBudgetListener(largest*7/2, memory.WithMitigationOrder(memory.IteratorFirst))
	require.NoError(t, err)
	pool := memory.NewPool("scan", l)

	it, err := NewScanIterator(info.Items, pool, 64, 4, nil)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	unbind := l.BindIterator(it)
	defer unbind()

	assert.Equal(t, wantIDs(rows), drainIDs(t, it))
	require.NoError(t, l.Err())

	st := l.Stats()
	assert.Positive(t, st.Crossings)
	assert.Zero(t, st.FailedMitigations)
	assert.Positive(t, it.ReclaimedBytes())
	assert.LessOrEqual(t, st.Peak, largest*7/2+largest)
	assert.Equal(t, int64(0), l.UsedBytes())
}

func TestScanIterator_Close(t *testing.T) {
	info, _ := dataset(t, 1, 100, 0)
	pool := memory.NewPool("scan", nil)

	it, err := NewScanIterator(info.Items, pool, 10, 4, nil)
	require.NoError(t, err)

	b, err := it.Next(context.Background())
	require.NoError(t, err)
	b.Release()
	assert.Positive(t, pool.Allocated())

	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.Equal(t, int64(0), pool.Allocated())

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScanIterator_Canceled(t *testing.T) {
	info, _ := dataset(t, 1, 10, 0)
	it, err := NewScanIterator(info.Items, memory.NewPool("scan", nil), 0, 0, nil)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanIterator_PartialSplits(t *testing.T) {
	info, rows := dataset(t, 1, 400, 100)
	size := info.Items[0].Length
	path := info.Items[0].Path

	// Two adjacent ranges cover the file; every row group is read exactly once.
	half := size / 2
	items := []split.Item{
		{Path: path, Start: 0, Length: half},
		{Path: path, Start: half, Length: size - half},
	}

	it, err := NewScanIterator(items, memory.NewPool("scan", nil), 50, 2, nil)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	assert.Equal(t, wantIDs(rows), drainIDs(t, it))
}

func TestScanIterator_MissingFile(t *testing.T) {
	_, err := NewScanIterator([]split.Item{{Path: filepath.Join(t.TempDir(), "nope.parquet")}}, memory.NewPool("scan", nil), 0, 0, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestScanBackend(t *testing.T) {
	info, rows := dataset(t, 2, 50, 0)
	backend := &ScanBackend{BatchSize: 16}
	assert.Equal(t, "scan", backend.Name())

	it, err := backend.Open(context.Background(), &plan.Plan{}, info, memory.NewPool("scan", nil))
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	total, batches, err := Drain(context.Background(), it, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(rows)), total)
	assert.Equal(t, int64(8), batches)

	_, err = backend.Open(context.Background(), nil, &split.Info{Format: split.ORC, Items: info.Items}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = backend.Open(context.Background(), nil, &split.Info{Format: split.Parquet}, nil)
	assert.ErrorIs(t, err, split.ErrNoSplits)
}
