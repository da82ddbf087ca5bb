package memory

import (
	"context"
	"sync"
	"sync/atomic"
)

// Reclaimer is implemented by pipeline components that can give memory back.
//
// Reclaim should release at least target bytes if it can and report how many
// bytes it actually released. Frees made through a tracked Pool arrive at the
// listener as negative deltas while Reclaim runs; Reclaim must not grow
// tracked memory.
type Reclaimer interface {
	Reclaim(ctx context.Context, target int64) (int64, error)
}

// ReclaimFunc adapts a function to the Reclaimer interface.
type ReclaimFunc func(ctx context.Context, target int64) (int64, error)

// Reclaim calls f(ctx, target).
func (f ReclaimFunc) Reclaim(ctx context.Context, target int64) (int64, error) {
	return f(ctx, target)
}

// Target names a binding slot of the Coordinator.
type Target uint8

const (
	// TargetWriter is the partitioned output (shuffle writer) slot.
	TargetWriter Target = iota
	// TargetIterator is the batch-producing iterator slot.
	TargetIterator
)

func (t Target) String() string {
	switch t {
	case TargetWriter:
		return "writer"
	case TargetIterator:
		return "iterator"
	default:
		return "unknown"
	}
}

// Order is the sequence in which bound components are asked for memory.
type Order uint8

const (
	// WriterFirst spills partitioned output before touching the iterator.
	WriterFirst Order = iota
	// IteratorFirst drops prefetched batches before spilling.
	IteratorFirst
)

func (o Order) targets() [2]Target {
	if o == IteratorFirst {
		return [2]Target{TargetIterator, TargetWriter}
	}
	return [2]Target{TargetWriter, TargetIterator}
}

type binding struct {
	r Reclaimer
}

// Coordinator holds the optional, non-owning bindings to relief-capable
// components and runs mitigation passes against them.
//
// Bindings are read lock-free on the allocation path. Passes are serialized,
// so a Reclaimer is never invoked concurrently by the same Coordinator.
type Coordinator struct {
	order Order

	writer   atomic.Pointer[binding]
	iterator atomic.Pointer[binding]

	passMu sync.Mutex
	passes atomic.Int64
}

// NewCoordinator creates a Coordinator with no bindings.
func NewCoordinator(order Order) *Coordinator {
	return &Coordinator{order: order}
}

// BindWriter binds the partitioned writer, replacing any previous binding.
// The returned func revokes the binding if it is still current.
func (c *Coordinator) BindWriter(r Reclaimer) func() {
	return c.bind(&c.writer, r)
}

// BindIterator binds the batch iterator, replacing any previous binding.
// The returned func revokes the binding if it is still current.
func (c *Coordinator) BindIterator(r Reclaimer) func() {
	return c.bind(&c.iterator, r)
}

func (c *Coordinator) bind(slot *atomic.Pointer[binding], r Reclaimer) func() {
	if r == nil {
		slot.Store(nil)
		return func() {}
	}
	b := &binding{r: r}
	slot.Store(b)
	return func() {
		slot.CompareAndSwap(b, nil)
	}
}

// Bound reports whether a component is bound to target.
func (c *Coordinator) Bound(target Target) bool {
	return c.slot(target).Load() != nil
}

// Passes returns the number of mitigation passes run so far.
func (c *Coordinator) Passes() int64 {
	return c.passes.Load()
}

func (c *Coordinator) slot(target Target) *atomic.Pointer[binding] {
	if target == TargetIterator {
		return &c.iterator
	}
	return &c.writer
}

// Mitigate runs one pass asking bound components, in order, to release needed
// bytes. It stops as soon as the reported relief covers needed. The returned
// amount is the total reported relief; err is a *ReclaimError when a
// component failed.
func (c *Coordinator) Mitigate(ctx context.Context, needed int64) (int64, error) {
	return c.mitigate(ctx, func(freed int64) int64 { return needed - freed })
}

// mitigate runs one pass. Before each component is asked, excess is called
// with the relief reported so far; the pass ends once it is not positive.
func (c *Coordinator) mitigate(ctx context.Context, excess func(freed int64) int64) (int64, error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	c.passes.Add(1)

	var freed int64
	for _, target := range c.order.targets() {
		remaining := excess(freed)
		if remaining <= 0 {
			break
		}
		b := c.slot(target).Load()
		if b == nil {
			continue
		}
		n, err := b.r.Reclaim(ctx, remaining)
		if n > 0 {
			freed += n
		}
		if err != nil {
			return freed, &ReclaimError{Target: target, Err: err}
		}
	}
	return freed, nil
}
