package colbench

import (
	"errors"

	"github.com/hupe1980/colbench/memory"
	"github.com/hupe1980/colbench/plan"
	"github.com/hupe1980/colbench/split"
)

var (
	// ErrResourceExhausted is matched by every fatal budget error.
	ErrResourceExhausted = memory.ErrResourceExhausted

	// ErrInvalidLimit is matched by configuration errors for negative limits.
	ErrInvalidLimit = memory.ErrInvalidLimit

	// ErrNoSplits is returned when a dataset has no input files.
	ErrNoSplits = split.ErrNoSplits

	// ErrPlanNotFound is returned when a plan file does not exist.
	ErrPlanNotFound = plan.ErrPlanNotFound
)

// ResourceExhaustedError reports a failed mitigation.
//
// Use errors.As to read the usage, limit and relief at the time of failure.
type ResourceExhaustedError = memory.ResourceExhaustedError

// ConfigError reports an invalid budget configuration.
type ConfigError = memory.ConfigError

// Process exit codes.
const (
	ExitOK                = 0
	ExitConfigError       = 1
	ExitResourceExhausted = 2
)

// ExitCode maps a run error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrResourceExhausted):
		return ExitResourceExhausted
	default:
		return ExitConfigError
	}
}
