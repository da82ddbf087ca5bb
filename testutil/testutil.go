package testutil

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// RNG is a seeded, goroutine-safe source for fixture data.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG returns an RNG seeded with seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: newRand(seed), seed: seed}
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
}

// Reset rewinds to the initial seed, so the same calls yield the same rows.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = newRand(r.seed)
}

func (r *RNG) Seed() int64 { return r.seed }

// Zipf returns a value in [0, n) following a Zipf distribution with exponent s.
// Lower values are much more likely; used to skew partition keys.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}
	if s <= 1 {
		s = 1.0001
	}
	// Inverse transform on the continuous approximation.
	u := r.rand.Float64()
	x := math.Pow(1-u*(1-math.Pow(float64(n), 1-s)), 1/(1-s))
	k := int(x) - 1
	if k < 0 {
		k = 0
	}
	if k >= n {
		k = n - 1
	}
	return k
}

// Rows generates n fixture rows. Keys take one of cardinality values; every
// nullEvery-th row has a null note (0 disables nulls).
func (r *RNG) Rows(n, cardinality, nullEvery int) []Row {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cardinality <= 0 {
		cardinality = 1
	}

	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			ID:    int64(i),
			Key:   fmt.Sprintf("key-%04d", r.zipfLocked(cardinality, 1.2)),
			Value: r.rand.Float64() * 1000,
		}
		if nullEvery <= 0 || i%nullEvery != 0 {
			note := fmt.Sprintf("note-%d", r.rand.IntN(1<<16))
			rows[i].Note = &note
		}
	}
	return rows
}
