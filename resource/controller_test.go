package resource

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_SpillSlots(t *testing.T) {
	c := NewController(Config{MaxSpillJobs: 2})

	require.NoError(t, c.AcquireSpill(context.Background()))
	require.NoError(t, c.AcquireSpill(context.Background()))
	assert.Equal(t, int64(2), c.ActiveSpills())

	assert.False(t, c.TryAcquireSpill())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireSpill(ctx), context.DeadlineExceeded)

	c.ReleaseSpill()
	assert.True(t, c.TryAcquireSpill())
	assert.Equal(t, int64(2), c.ActiveSpills())
}

func TestController_DefaultsToOneSlot(t *testing.T) {
	c := NewController(Config{})
	assert.True(t, c.TryAcquireSpill())
	assert.False(t, c.TryAcquireSpill())
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	require.NoError(t, c.AcquireSpill(context.Background()))
	assert.True(t, c.TryAcquireSpill())
	c.ReleaseSpill()
	assert.Equal(t, int64(0), c.ActiveSpills())
	require.NoError(t, c.AcquireIO(context.Background(), 1<<30))
}

func TestController_IOLimitSplitsLargeWrites(t *testing.T) {
	c := NewController(Config{SpillBytesPerSec: 1 << 20})

	var buf bytes.Buffer
	w := c.SpillWriter(context.Background(), &buf)

	// Larger than the burst: WaitN would reject it unsplit.
	payload := make([]byte, 1<<20+1024)
	n, err := w.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, int64(len(payload)), c.IOStats().SpilledBytes)
}

func TestController_IOLimitCanceled(t *testing.T) {
	c := NewController(Config{SpillBytesPerSec: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := c.SpillWriter(ctx, io.Discard)
	_, err := w.Write(make([]byte, 100))
	assert.Error(t, err)
}

func TestRateLimitedReader(t *testing.T) {
	c := NewController(Config{SpillBytesPerSec: 1 << 20})
	r := c.RestoreReader(context.Background(), strings.NewReader("spill data"))

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "spill data", string(out))
	assert.Equal(t, int64(10), c.IOStats().RestoredBytes)
	assert.Zero(t, c.IOStats().SpilledBytes)
}

func TestController_NilPassesThrough(t *testing.T) {
	var c *Controller
	var buf bytes.Buffer

	w := c.SpillWriter(context.Background(), &buf)
	assert.Same(t, &buf, w)
	assert.Equal(t, IOStats{}, c.IOStats())
}
