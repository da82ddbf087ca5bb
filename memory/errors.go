package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLimit is returned when a budget is constructed with a negative limit.
	ErrInvalidLimit = errors.New("memory limit must not be negative")

	// ErrResourceExhausted is matched by every *ResourceExhaustedError.
	ErrResourceExhausted = errors.New("memory budget exhausted")
)

// ConfigError indicates an invalid budget configuration.
type ConfigError struct {
	Limit int64
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid memory limit: %d", e.Limit)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidLimit }

// ResourceExhaustedError reports a mitigation pass that could not bring usage
// back under the limit.
//
// The underlying reclaimer failure (if any) can be accessed via errors.Unwrap.
type ResourceExhaustedError struct {
	Used   int64 // usage when the pass gave up
	Limit  int64
	Needed int64 // bytes that had to be released
	Freed  int64 // bytes the bound components reported as released
	cause  error
}

func (e *ResourceExhaustedError) Error() string {
	msg := fmt.Sprintf("memory budget exhausted: used %d, limit %d, needed %d, freed %d",
		e.Used, e.Limit, e.Needed, e.Freed)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Is reports ErrResourceExhausted as a match.
func (e *ResourceExhaustedError) Is(target error) bool {
	return target == ErrResourceExhausted
}

func (e *ResourceExhaustedError) Unwrap() error { return e.cause }

// ReclaimError wraps an error returned by a bound Reclaimer.
type ReclaimError struct {
	Target Target
	Err    error
}

func (e *ReclaimError) Error() string {
	return fmt.Sprintf("reclaim from %s: %v", e.Target, e.Err)
}

func (e *ReclaimError) Unwrap() error { return e.Err }
