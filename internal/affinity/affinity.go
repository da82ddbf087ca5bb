// Package affinity pins benchmark workers to CPUs.
//
// Pinning locks the calling goroutine to its OS thread and restricts that
// thread to one CPU. It is supported on Linux; elsewhere Pin only locks the
// thread and reports ErrUnsupported.
package affinity

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned by Pin on platforms without thread affinity.
var ErrUnsupported = errors.New("affinity: cpu pinning not supported on this platform")

// CPUFor returns the cpu for worker index, starting at first and wrapping
// around the available cpus. It returns -1 if first is negative.
func CPUFor(first, index int) int {
	if first < 0 {
		return -1
	}
	return (first + index) % runtime.NumCPU()
}

// Pin locks the calling goroutine to its thread and pins the thread to cpu.
// The lock is never released: call Pin from a goroutine that exits when the
// work is done, so the pinned thread is terminated with it.
func Pin(cpu int) error {
	runtime.LockOSThread()
	return setAffinity(cpu)
}
