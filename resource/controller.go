package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds limits for spill work shared by all pipelines of a run.
type Config struct {
	// MaxSpillJobs is the maximum number of spills writing at the same time.
	// If 0, defaults to 1.
	MaxSpillJobs int64

	// SpillBytesPerSec caps the write throughput of spills.
	// If 0, unlimited.
	SpillBytesPerSec int64
}

// Controller bounds concurrent spill jobs and their IO throughput.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	spillSem *semaphore.Weighted
	active   atomic.Int64

	ioLimiter *rate.Limiter
	spilled   atomic.Int64
	restored  atomic.Int64
	throttled atomic.Int64 // nanoseconds
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxSpillJobs <= 0 {
		cfg.MaxSpillJobs = 1
	}

	c := &Controller{
		cfg:      cfg,
		spillSem: semaphore.NewWeighted(cfg.MaxSpillJobs),
	}

	if cfg.SpillBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.SpillBytesPerSec), int(cfg.SpillBytesPerSec))
	}

	return c
}

// AcquireSpill reserves a spill slot, blocking until one is free or ctx is canceled.
func (c *Controller) AcquireSpill(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.spillSem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.active.Add(1)
	return nil
}

// TryAcquireSpill reserves a spill slot without blocking.
func (c *Controller) TryAcquireSpill() bool {
	if c == nil {
		return true
	}
	if !c.spillSem.TryAcquire(1) {
		return false
	}
	c.active.Add(1)
	return true
}

// ReleaseSpill releases a spill slot.
func (c *Controller) ReleaseSpill() {
	if c == nil {
		return
	}
	c.active.Add(-1)
	c.spillSem.Release(1)
}

// ActiveSpills returns the number of spill slots in use.
func (c *Controller) ActiveSpills() int64 {
	if c == nil {
		return 0
	}
	return c.active.Load()
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	// WaitN rejects requests above the burst size, so large writes are split.
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
