package resource

import (
	"context"
	"io"
	"time"
)

// IOStats counts spill traffic that went through a Controller.
type IOStats struct {
	SpilledBytes  int64
	RestoredBytes int64
	Throttled     time.Duration // time spent waiting on the IO limit
}

// IOStats returns the spill traffic seen so far.
func (c *Controller) IOStats() IOStats {
	if c == nil {
		return IOStats{}
	}
	return IOStats{
		SpilledBytes:  c.spilled.Load(),
		RestoredBytes: c.restored.Load(),
		Throttled:     time.Duration(c.throttled.Load()),
	}
}

// SpillWriter charges writes to w against the IO limit before passing them
// on. A nil Controller returns w unchanged.
func (c *Controller) SpillWriter(ctx context.Context, w io.Writer) io.Writer {
	if c == nil {
		return w
	}
	return &spillWriter{ctx: ctx, w: w, c: c}
}

// RestoreReader charges bytes read back from a spill after the fact, so a
// short read is never charged for more than it returned.
func (c *Controller) RestoreReader(ctx context.Context, r io.Reader) io.Reader {
	if c == nil {
		return r
	}
	return &restoreReader{ctx: ctx, r: r, c: c}
}

func (c *Controller) wait(ctx context.Context, n int) error {
	if c.ioLimiter == nil {
		return nil
	}
	start := time.Now()
	err := c.AcquireIO(ctx, n)
	c.throttled.Add(int64(time.Since(start)))
	return err
}

type spillWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

func (s *spillWriter) Write(p []byte) (int, error) {
	if err := s.c.wait(s.ctx, len(p)); err != nil {
		return 0, err
	}
	n, err := s.w.Write(p)
	s.c.spilled.Add(int64(n))
	return n, err
}

type restoreReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

func (s *restoreReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.c.restored.Add(int64(n))
		if werr := s.c.wait(s.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}
