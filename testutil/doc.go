// Package testutil provides helpers for tests and benchmarks.
//
// It generates deterministic datasets and writes them as parquet files with
// a fixed row group size, so scan and shuffle tests can reason about exact
// batch boundaries.
//
//	rng := testutil.NewRNG(42)
//	rows, err := testutil.Dataset(dir, rng, 2, 1000, 250) // 2 files, 4 row groups each
package testutil
