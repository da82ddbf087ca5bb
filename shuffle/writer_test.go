package shuffle

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbench/batch"
	"github.com/hupe1980/colbench/blobstore"
	"github.com/hupe1980/colbench/internal/fs"
	"github.com/hupe1980/colbench/memory"
	"github.com/hupe1980/colbench/resource"
)

// makeBatch builds a batch of n two-column rows keyed k-<i%keys>.
func makeBatch(t *testing.T, pool *memory.Pool, seq, first, n, keys int) *batch.ColumnarBatch {
	t.Helper()
	rows := make([][][]byte, n)
	for i := range rows {
		id := first + i
		rows[i] = [][]byte{
			[]byte(fmt.Sprintf("k-%d", id%keys)),
			[]byte(fmt.Sprintf("value-%06d", id)),
		}
	}
	b, err := batch.New(pool, seq, 2, rows)
	require.NoError(t, err)
	return b
}

// readAll returns the second column of every row in the data file, sorted.
func readAll(t *testing.T, m *Metrics, codec Codec) []string {
	t.Helper()
	var values []string
	for p := range m.PartitionLengths {
		rows, err := ReadPartition(m.DataFile, m.PartitionLengths, p, codec)
		require.NoError(t, err)
		for _, row := range rows {
			v, ok := batch.DecodeValue(row, 1)
			require.True(t, ok)
			values = append(values, string(v))
		}
	}
	sort.Strings(values)
	return values
}

func wantValues(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("value-%06d", i)
	}
	return out
}

func TestWriter_NoSpill(t *testing.T) {
	pool := memory.NewPool("shuffle", nil)
	dataFile := filepath.Join(t.TempDir(), "shuffle-test.data")

	w, err := NewWriter(pool, dataFile, 4, WithPartitioner("hash"), WithCodec(CodecLZ4))
	require.NoError(t, err)
	assert.Equal(t, 4, w.NumPartitions())

	for i := 0; i < 5; i++ {
		b := makeBatch(t, pool, i, i*100, 100, 7)
		require.NoError(t, w.Write(context.Background(), b))
		b.Release()
	}
	assert.Equal(t, w.Buffered(), pool.Allocated())

	m, err := w.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(500), m.RowsWritten)
	assert.Zero(t, m.SpillCount)
	assert.Empty(t, m.SpilledPartitions)
	assert.Len(t, m.PartitionLengths, 4)
	var sum int64
	for _, n := range m.PartitionLengths {
		sum += n
	}
	assert.Equal(t, m.BytesWritten, sum)
	assert.Equal(t, int64(0), pool.Allocated())

	assert.Equal(t, wantValues(500), readAll(t, m, CodecLZ4))

	// Rows with equal keys land in one partition.
	for p := range m.PartitionLengths {
		rows, err := ReadPartition(m.DataFile, m.PartitionLengths, p, CodecLZ4)
		require.NoError(t, err)
		for _, row := range rows {
			k, _ := batch.DecodeValue(row, 0)
			assert.Equal(t, p, w.part.Partition(row), "key %s", k)
		}
	}

	_, err = w.Stop(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	b := makeBatch(t, pool, 0, 0, 1, 1)
	defer b.Release()
	assert.ErrorIs(t, w.Write(context.Background(), b), ErrStopped)
}

func TestWriter_Reclaim(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			pool := memory.NewPool("shuffle", nil)
			dir := t.TempDir()
			store := blobstore.NewMemoryStore()

			w, err := NewWriter(pool, filepath.Join(dir, "out.data"), 3,
				WithCodec(codec), WithSpillStore(store), WithBlockSize(512))
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				b := makeBatch(t, pool, i, i*90, 90, 5)
				require.NoError(t, w.Write(context.Background(), b))
				b.Release()
			}

			before := w.Buffered()
			freed, err := w.Reclaim(context.Background(), 1)
			require.NoError(t, err)
			assert.Positive(t, freed)
			assert.Equal(t, before-freed, w.Buffered())
			assert.Equal(t, int64(1), w.SpillCount())

			names, err := store.List(context.Background(), "spill-")
			require.NoError(t, err)
			assert.Len(t, names, 1)

			// More rows after the spill, then spill everything.
			b := makeBatch(t, pool, 3, 270, 30, 5)
			require.NoError(t, w.Write(context.Background(), b))
			b.Release()

			_, err = w.Reclaim(context.Background(), 1<<40)
			require.NoError(t, err)
			assert.Zero(t, w.Buffered())
			assert.Equal(t, int64(0), pool.Allocated())

			m, err := w.Stop(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(4), m.SpillCount)
			assert.Equal(t, []uint32{0, 1, 2}, m.SpilledPartitions)
			assert.Equal(t, m.RawBytes, m.SpilledBytes)
			assert.Equal(t, wantValues(300), readAll(t, m, codec))

			names, err = store.List(context.Background(), "spill-")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestWriter_UnderBudget(t *testing.T) {
	l, err := memory.NewBudgetListener(8 << 10)
	require.NoError(t, err)
	pool := memory.NewPool("shuffle", l)

	dir := t.TempDir()
	rc := resource.NewController(resource.Config{MaxSpillJobs: 1, SpillBytesPerSec: 64 << 20})
	w, err := NewWriter(pool, filepath.Join(dir, "out.data"), 4,
		WithPartitioner("roundrobin"), WithCodec(CodecZSTD), WithResourceController(rc))
	require.NoError(t, err)

	unbind := l.BindWriter(w)
	defer unbind()

	// Batches come from an untracked pool so only the writer's buffers count.
	src := memory.NewPool("source", nil)
	for i := 0; i < 40; i++ {
		b := makeBatch(t, src, i, i*50, 50, 10)
		require.NoError(t, w.Write(context.Background(), b))
		b.Release()
	}
	require.NoError(t, l.Err())
	assert.Positive(t, w.SpillCount())
	assert.Positive(t, l.Stats().Crossings)

	m, err := w.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wantValues(2000), readAll(t, m, CodecZSTD))
	assert.Equal(t, int64(0), l.UsedBytes())
	assert.Equal(t, int64(0), rc.ActiveSpills())

	// Spill blobs lived next to the data file and are gone after Stop.
	spills, err := filepath.Glob(filepath.Join(dir, "spill-*"))
	require.NoError(t, err)
	assert.Empty(t, spills)
}

func TestWriter_SpillFailure(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("spill-", fs.Fault{FailAfterBytes: 16})

	pool := memory.NewPool("shuffle", nil)
	dir := t.TempDir()
	w, err := NewWriter(pool, filepath.Join(dir, "out.data"), 2, WithFileSystem(ffs))
	require.NoError(t, err)

	b := makeBatch(t, pool, 0, 0, 100, 3)
	require.NoError(t, w.Write(context.Background(), b))
	b.Release()

	held := w.Buffered()
	freed, err := w.Reclaim(context.Background(), held)
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.Zero(t, freed)
	assert.Equal(t, held, w.Buffered())

	spills, err := filepath.Glob(filepath.Join(dir, "spill-*"))
	require.NoError(t, err)
	assert.Empty(t, spills)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, int64(0), pool.Allocated())
}

func TestWriter_ReclaimAfterStop(t *testing.T) {
	pool := memory.NewPool("shuffle", nil)
	w, err := NewWriter(pool, filepath.Join(t.TempDir(), "out.data"), 1, WithPartitioner("single"))
	require.NoError(t, err)

	_, err = w.Stop(context.Background())
	require.NoError(t, err)

	freed, err := w.Reclaim(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, freed)
}

func TestNewWriter_Invalid(t *testing.T) {
	pool := memory.NewPool("shuffle", nil)

	_, err := NewWriter(pool, "", 2)
	assert.Error(t, err)

	_, err = NewWriter(pool, "out.data", 2, WithPartitioner("nope"))
	assert.Error(t, err)
}
