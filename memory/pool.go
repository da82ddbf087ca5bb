package memory

import (
	"fmt"
	"sync/atomic"
)

// Pool hands out pipeline memory and reports every size change to its
// listener. A nil listener tracks usage without enforcing anything.
type Pool struct {
	name      string
	listener  AllocationListener
	allocated atomic.Int64
}

// NewPool creates a pool reporting to listener.
func NewPool(name string, listener AllocationListener) *Pool {
	return &Pool{
		name:     name,
		listener: listener,
	}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Allocate returns a zeroed buffer of n bytes after reporting the allocation.
// If the listener rejects it the allocation is rolled back and the error is
// returned.
func (p *Pool) Allocate(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("pool %s: negative allocation size %d", p.name, n)
	}
	if err := p.Reserve(int64(n)); err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

// Free returns a buffer obtained from Allocate. It reports cap(buf), which
// survives reslicing by the caller.
func (p *Pool) Free(buf []byte) {
	p.Release(int64(cap(buf)))
}

// Reserve accounts for n bytes held outside the pool's own buffers.
func (p *Pool) Reserve(n int64) error {
	if n <= 0 {
		return nil
	}
	p.allocated.Add(n)
	if p.listener == nil {
		return nil
	}
	if err := p.listener.AllocationChanged(n); err != nil {
		p.allocated.Add(-n)
		_ = p.listener.AllocationChanged(-n)
		return fmt.Errorf("pool %s: allocate %d bytes: %w", p.name, n, err)
	}
	return nil
}

// Release gives back n bytes previously reserved.
func (p *Pool) Release(n int64) {
	if n <= 0 {
		return
	}
	p.allocated.Add(-n)
	if p.listener != nil {
		_ = p.listener.AllocationChanged(-n)
	}
}

// Allocated returns the bytes currently outstanding through this pool.
func (p *Pool) Allocated() int64 {
	return p.allocated.Load()
}
