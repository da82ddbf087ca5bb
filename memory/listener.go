package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// AllocationListener receives every allocation delta of a Pool.
// Positive deltas are allocations, negative deltas are frees.
type AllocationListener interface {
	AllocationChanged(diff int64) error
}

// Stats is a snapshot of a BudgetListener.
type Stats struct {
	Limit             int64
	Used              int64
	Peak              int64
	Crossings         int64
	FailedMitigations int64
	Freed             int64 // relief reported by successful and failed passes
}

// BudgetListener tracks net allocated bytes against a fixed limit and runs a
// mitigation pass on the allocating goroutine whenever an allocation moves
// usage from at-or-below the limit to above it.
//
// A pass succeeds only if the counter is back at or below the limit when it
// ends. Allocations that land above the limit while a pass runs wait for it
// and return its outcome, so usage never stays over the limit unremedied.
//
// A zero limit disables enforcement; usage is still tracked.
type BudgetListener struct {
	limit      int64
	accounting Accounting
	coord      *Coordinator
	logger     *zap.Logger
	hook       func(Mitigation)

	passMu sync.Mutex

	used      atomic.Int64
	peak      atomic.Int64
	crossings atomic.Int64
	failed    atomic.Int64
	freed     atomic.Int64

	fatal atomic.Pointer[ResourceExhaustedError]
}

var _ AllocationListener = (*BudgetListener)(nil)

// NewBudgetListener creates a listener enforcing limit bytes.
// It returns a *ConfigError if limit is negative.
func NewBudgetListener(limit int64, optFns ...Option) (*BudgetListener, error) {
	if limit < 0 {
		return nil, &ConfigError{Limit: limit}
	}

	opts := options{
		order:      WriterFirst,
		accounting: ReliefObserved,
		logger:     zap.NewNop(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &BudgetListener{
		limit:      limit,
		accounting: opts.accounting,
		coord:      NewCoordinator(opts.order),
		logger:     opts.logger,
		hook:       opts.hook,
	}, nil
}

// AllocationChanged applies diff to the running total.
//
// The delta is always applied. When it is positive and leaves usage above the
// limit, the bound components are asked to release the excess before this
// call returns. A *ResourceExhaustedError is returned when they cannot; from
// then on every positive delta returns the same error.
func (l *BudgetListener) AllocationChanged(diff int64) error {
	used := l.used.Add(diff)
	if diff <= 0 {
		return nil
	}
	l.observePeak(used)

	if l.limit == 0 {
		return nil
	}
	if err := l.fatal.Load(); err != nil {
		return err
	}
	if used <= l.limit {
		return nil
	}
	if used-diff <= l.limit {
		l.crossings.Add(1)
	}
	// Already over: a pass for an earlier crossing is running, or its
	// goroutine has not reached the pass yet. Either way, wait and re-check.
	return l.mitigate()
}

func (l *BudgetListener) observePeak(used int64) {
	for peak := l.peak.Load(); used > peak; peak = l.peak.Load() {
		if l.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}

// excess returns how far usage is above the limit, counting relief as
// already subtracted under ReliefApplied.
func (l *BudgetListener) excess(freed int64) int64 {
	used := l.used.Load()
	if l.accounting == ReliefApplied {
		used -= freed
	}
	return used - l.limit
}

func (l *BudgetListener) mitigate() error {
	l.passMu.Lock()
	defer l.passMu.Unlock()

	if err := l.fatal.Load(); err != nil {
		return err
	}
	used := l.used.Load()
	needed := used - l.limit
	if needed <= 0 {
		// An earlier pass already covered this allocation.
		return nil
	}

	l.logger.Info("memory limit reached",
		zap.Int64("limit", l.limit),
		zap.Int64("used", used),
		zap.Int64("needed", needed),
	)

	start := time.Now()
	freed, err := l.coord.mitigate(context.Background(), l.excess)
	l.freed.Add(freed)
	if l.accounting == ReliefApplied && freed > 0 {
		l.used.Add(-freed)
	}
	after := l.used.Load()

	m := Mitigation{
		Used:     used,
		Limit:    l.limit,
		Needed:   needed,
		Freed:    freed,
		Duration: time.Since(start),
	}

	if err == nil && after <= l.limit {
		l.logger.Info("memory mitigation done",
			zap.Int64("needed", needed),
			zap.Int64("freed", freed),
			zap.Int64("used", after),
			zap.Duration("duration", m.Duration),
		)
		l.notify(m)
		return nil
	}

	exhausted := &ResourceExhaustedError{
		Used:   after,
		Limit:  l.limit,
		Needed: needed,
		Freed:  freed,
		cause:  err,
	}
	l.failed.Add(1)
	l.fatal.Store(exhausted)

	l.logger.Error("memory mitigation failed",
		zap.Int64("limit", l.limit),
		zap.Int64("used", after),
		zap.Int64("needed", needed),
		zap.Int64("freed", freed),
		zap.Bool("writer_bound", l.coord.Bound(TargetWriter)),
		zap.Bool("iterator_bound", l.coord.Bound(TargetIterator)),
		zap.Error(err),
	)
	m.Err = exhausted
	l.notify(m)
	return exhausted
}

func (l *BudgetListener) notify(m Mitigation) {
	if l.hook != nil {
		l.hook(m)
	}
}

// BindWriter binds the partitioned writer. See Coordinator.BindWriter.
func (l *BudgetListener) BindWriter(r Reclaimer) func() {
	return l.coord.BindWriter(r)
}

// BindIterator binds the batch iterator. See Coordinator.BindIterator.
func (l *BudgetListener) BindIterator(r Reclaimer) func() {
	return l.coord.BindIterator(r)
}

// Coordinator returns the mitigation coordinator owned by the listener.
func (l *BudgetListener) Coordinator() *Coordinator {
	return l.coord
}

// Limit returns the configured limit in bytes; 0 means unlimited.
func (l *BudgetListener) Limit() int64 {
	return l.limit
}

// UsedBytes returns the current net allocated bytes.
func (l *BudgetListener) UsedBytes() int64 {
	return l.used.Load()
}

// PeakBytes returns the highest usage observed.
func (l *BudgetListener) PeakBytes() int64 {
	return l.peak.Load()
}

// Err returns the latched *ResourceExhaustedError, or nil.
func (l *BudgetListener) Err() error {
	if err := l.fatal.Load(); err != nil {
		return err
	}
	return nil
}

// Stats returns a snapshot of the listener counters.
func (l *BudgetListener) Stats() Stats {
	return Stats{
		Limit:             l.limit,
		Used:              l.used.Load(),
		Peak:              l.peak.Load(),
		Crossings:         l.crossings.Load(),
		FailedMitigations: l.failed.Load(),
		Freed:             l.freed.Load(),
	}
}
