package batch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colbench/memory"
)

func TestColumnarBatch(t *testing.T) {
	pool := memory.NewPool("test", nil)

	rows := [][][]byte{
		{[]byte("a"), []byte("xyz")},
		{nil, []byte{}},
		{[]byte("bb"), nil},
	}
	b, err := New(pool, 3, 2, rows)
	require.NoError(t, err)

	assert.Equal(t, 3, b.Seq())
	assert.Equal(t, 3, b.NumRows())
	assert.Equal(t, 2, b.NumColumns())
	assert.Equal(t, int64(EncodedSize(2, rows)), b.Size())
	assert.Equal(t, b.Size(), pool.Allocated())

	v, ok := b.Value(0, 1)
	require.True(t, ok)
	assert.Equal(t, "xyz", string(v))

	_, ok = b.Value(1, 0)
	assert.False(t, ok)

	v, ok = b.Value(1, 1)
	require.True(t, ok)
	assert.Empty(t, v)

	v, ok = b.Value(2, 0)
	require.True(t, ok)
	assert.Equal(t, "bb", string(v))

	_, ok = b.Value(2, 5)
	assert.False(t, ok)

	var seen []int
	require.NoError(t, b.Each(func(i int, row []byte) error {
		seen = append(seen, i)
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2}, seen)

	b.Release()
	b.Release()
	assert.True(t, b.Released())
	assert.Equal(t, int64(0), pool.Allocated())
	assert.Equal(t, 0, b.NumRows())
	assert.ErrorIs(t, b.Each(func(int, []byte) error { return nil }), ErrReleased)
}

func TestColumnarBatch_WrongWidth(t *testing.T) {
	pool := memory.NewPool("test", nil)
	_, err := New(pool, 0, 2, [][][]byte{{[]byte("a")}})
	assert.Error(t, err)
	assert.Equal(t, int64(0), pool.Allocated())
}

func TestColumnarBatch_EachStops(t *testing.T) {
	pool := memory.NewPool("test", nil)
	b, err := New(pool, 0, 1, [][][]byte{{[]byte("a")}, {[]byte("b")}})
	require.NoError(t, err)
	defer b.Release()

	stop := errors.New("stop")
	calls := 0
	err = b.Each(func(int, []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestColumnarBatch_Rejected(t *testing.T) {
	l, err := memory.NewBudgetListener(16)
	require.NoError(t, err)
	pool := memory.NewPool("test", l)

	_, err = New(pool, 0, 1, [][][]byte{{make([]byte, 64)}})
	require.ErrorIs(t, err, memory.ErrResourceExhausted)
	assert.Equal(t, int64(0), pool.Allocated())
	assert.Equal(t, int64(0), l.UsedBytes())
}

func TestDecodeValue_Malformed(t *testing.T) {
	_, ok := DecodeValue([]byte{1, 0}, 0)
	assert.False(t, ok)

	_, ok = DecodeValue([]byte{9, 0, 0, 0, 'a'}, 0)
	assert.False(t, ok)
}
