package memory

import (
	"time"

	"go.uber.org/zap"
)

// Accounting selects how relief reported by a Reclaimer reaches the counter.
type Accounting uint8

const (
	// ReliefObserved expects components to free through a tracked Pool; the
	// frees arrive as negative deltas. The reported amount is informational;
	// the counter decides whether the pass succeeded.
	ReliefObserved Accounting = iota

	// ReliefApplied subtracts the reported amount from the counter. Use it for
	// components whose memory is not routed through a Pool.
	ReliefApplied
)

// Mitigation describes one finished mitigation pass.
type Mitigation struct {
	Used     int64 // usage at the crossing
	Limit    int64
	Needed   int64
	Freed    int64
	Duration time.Duration
	Err      error // nil on success, *ResourceExhaustedError otherwise
}

type options struct {
	order      Order
	accounting Accounting
	logger     *zap.Logger
	hook       func(Mitigation)
}

// Option configures a BudgetListener.
type Option func(*options)

// WithMitigationOrder sets which bound component is asked first.
// The default is WriterFirst.
func WithMitigationOrder(o Order) Option {
	return func(opts *options) {
		opts.order = o
	}
}

// WithReliefAccounting sets how reported relief is accounted.
// The default is ReliefObserved.
func WithReliefAccounting(a Accounting) Option {
	return func(opts *options) {
		opts.accounting = a
	}
}

// WithLogger sets the logger used to report crossings and mitigation results.
func WithLogger(l *zap.Logger) Option {
	return func(opts *options) {
		if l != nil {
			opts.logger = l
		}
	}
}

// WithMitigationHook registers fn to be called after every mitigation pass,
// on the goroutine that ran it.
func WithMitigationHook(fn func(Mitigation)) Option {
	return func(opts *options) {
		opts.hook = fn
	}
}
