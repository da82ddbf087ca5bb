// Package memory enforces a memory budget over a columnar execution pipeline.
//
// Every allocation and free made by pipeline components flows through a Pool,
// which reports the signed byte delta to an AllocationListener. The
// BudgetListener keeps the running total and, when an allocation pushes usage
// over the configured limit, asks the bound components to relieve memory:
//
//	pipeline component
//	      |
//	    Pool.Allocate / Pool.Free
//	      |
//	BudgetListener.AllocationChanged(diff)  -- over limit? --> Coordinator
//	                                                              |
//	                                          writer.Reclaim / iterator.Reclaim
//
// # Lifecycle
//
// The listener is created before the components it protects, because the pool
// that builds them must already hold it. Components are bound afterwards and
// revoked on teardown:
//
//	l, _ := memory.NewBudgetListener(512 << 20)
//	pool := memory.NewPool("pipeline-0", l)
//	it := openIterator(pool)
//	w := newShuffleWriter(pool)
//	defer l.BindIterator(it)()
//	defer l.BindWriter(w)()
//
// # Failure
//
// A pass succeeds only if usage is back at or below the limit when it ends;
// allocations made by other goroutines while it runs are counted. Otherwise
// the listener returns a *ResourceExhaustedError. The error is latched: every later allocation on
// the same listener fails with it, so a run never continues outside its
// configured envelope.
package memory
