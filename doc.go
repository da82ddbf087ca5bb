// Package colbench benchmarks a columnar scan and shuffle pipeline under a
// fixed memory budget.
//
// Every pipeline allocates through a [memory.Pool] whose deltas flow into a
// [memory.BudgetListener]. When an allocation pushes usage over the limit the
// listener asks the shuffle writer to spill and, if that is not enough, the
// scan iterator to drop prefetched batches. A run that cannot be brought back
// under the limit fails with [ErrResourceExhausted].
//
// # Running
//
//	colbench -data ./lineitem -threads 4 -iterations 3 -memory-limit 256MiB -shuffle
//
// # Layout
//
//   - memory: budget listener, mitigation coordinator and tracked pool
//   - batch: columnar batches and the parquet scan iterator
//   - shuffle: partitioned writer that spills to a blobstore
//   - bench: the runner wiring one pipeline per iteration and thread
//   - report: result sinks (text, JSON, DynamoDB, Redis)
//
// # Errors
//
// Errors are wrapped with fmt.Errorf("...: %w") and match the sentinels in
// this package with errors.Is. [ExitCode] maps them to process exit codes.
package colbench
