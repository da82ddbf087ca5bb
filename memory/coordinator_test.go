package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(n int64) Reclaimer {
	return ReclaimFunc(func(context.Context, int64) (int64, error) { return n, nil })
}

func TestCoordinator_Bindings(t *testing.T) {
	c := NewCoordinator(WriterFirst)
	assert.False(t, c.Bound(TargetWriter))
	assert.False(t, c.Bound(TargetIterator))

	revokeA := c.BindWriter(fixed(1))
	assert.True(t, c.Bound(TargetWriter))

	// Last write wins; revoking the replaced binding keeps its successor.
	revokeB := c.BindWriter(fixed(2))
	revokeA()
	assert.True(t, c.Bound(TargetWriter))

	freed, err := c.Mitigate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), freed)

	revokeB()
	assert.False(t, c.Bound(TargetWriter))
	revokeB()

	c.BindIterator(fixed(1))
	assert.True(t, c.Bound(TargetIterator))
	c.BindIterator(nil)
	assert.False(t, c.Bound(TargetIterator))
}

func TestCoordinator_Mitigate(t *testing.T) {
	tests := []struct {
		name      string
		order     Order
		writer    Reclaimer
		iterator  Reclaimer
		needed    int64
		wantFreed int64
	}{
		{name: "nothing bound", needed: 10, wantFreed: 0},
		{name: "writer covers", writer: fixed(10), iterator: fixed(99), needed: 10, wantFreed: 10},
		{name: "iterator remainder", writer: fixed(4), iterator: fixed(6), needed: 10, wantFreed: 10},
		{name: "iterator only", iterator: fixed(7), needed: 10, wantFreed: 7},
		{name: "iterator first covers", order: IteratorFirst, writer: fixed(99), iterator: fixed(10), needed: 10, wantFreed: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(tt.order)
			if tt.writer != nil {
				c.BindWriter(tt.writer)
			}
			if tt.iterator != nil {
				c.BindIterator(tt.iterator)
			}

			freed, err := c.Mitigate(context.Background(), tt.needed)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFreed, freed)
			assert.Equal(t, int64(1), c.Passes())
		})
	}
}

func TestCoordinator_IgnoresNegativeRelief(t *testing.T) {
	c := NewCoordinator(WriterFirst)
	c.BindWriter(fixed(-5))
	c.BindIterator(fixed(3))

	freed, err := c.Mitigate(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), freed)
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "writer", TargetWriter.String())
	assert.Equal(t, "iterator", TargetIterator.String())
	assert.Equal(t, "unknown", Target(9).String())
}
