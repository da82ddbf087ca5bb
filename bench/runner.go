// Package bench runs benchmark pipelines under a memory budget.
//
// A pipeline is one pass over the splits: a budget listener, a tracked pool,
// an iterator from the backend and, when shuffle is enabled, a partitioned
// writer. Both relief-capable stages are bound to the listener for the
// duration of the pipeline:
//
//	r, err := bench.NewRunner(bench.Config{
//		Splits:      splits,
//		Backend:     &batch.ScanBackend{},
//		Threads:     4,
//		Iterations:  3,
//		MemoryLimit: 256 << 20,
//	})
//	report, err := r.Run(ctx)
package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/colbench"
	"github.com/hupe1980/colbench/batch"
	"github.com/hupe1980/colbench/blobstore"
	"github.com/hupe1980/colbench/internal/affinity"
	"github.com/hupe1980/colbench/memory"
	"github.com/hupe1980/colbench/plan"
	"github.com/hupe1980/colbench/resource"
	"github.com/hupe1980/colbench/shuffle"
	"github.com/hupe1980/colbench/split"
)

// ErrInvalidConfig is matched by every NewRunner validation error.
var ErrInvalidConfig = errors.New("bench: invalid config")

// Config describes a benchmark run.
type Config struct {
	Plan    *plan.Plan // optional, handed to the backend
	Splits  *split.Info
	Backend batch.Backend

	Threads    int
	Iterations int
	CPU        int // first cpu to pin workers to, -1 disables pinning

	MemoryLimit int64 // 0 disables enforcement
	Order       memory.Order
	Relief      memory.Accounting

	Shuffle *ShuffleConfig // nil disables the partitioned writer
}

// ShuffleConfig configures the partitioned writer of each pipeline.
type ShuffleConfig struct {
	Partitions  int
	Partitioner string
	Codec       shuffle.Codec
	BlockSize   int

	LocalDirs  shuffle.LocalDirs
	SpillStore blobstore.Store // nil spills to LocalDirs
	Controller *resource.Controller
}

// Runner executes Iterations x Threads pipelines.
type Runner struct {
	cfg  Config
	opts options

	runID     string
	completed atomic.Int64
	failed    atomic.Int64
	rows      atomic.Int64
}

// NewRunner validates cfg and returns a runner.
func NewRunner(cfg Config, optFns ...Option) (*Runner, error) {
	opts := options{
		logger:  colbench.NoopLogger(),
		metrics: &colbench.NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if cfg.Splits == nil || len(cfg.Splits.Items) == 0 {
		return nil, split.ErrNoSplits
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 1
	}
	if cfg.MemoryLimit < 0 {
		return nil, &memory.ConfigError{Limit: cfg.MemoryLimit}
	}
	if sh := cfg.Shuffle; sh != nil {
		if sh.Partitions <= 0 {
			return nil, fmt.Errorf("%w: partitions must be positive, got %d", ErrInvalidConfig, sh.Partitions)
		}
		if _, err := shuffle.NewPartitioner(sh.Partitioner, sh.Partitions); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if len(sh.LocalDirs.Dirs) == 0 {
			return nil, fmt.Errorf("%w: shuffle needs at least one local dir", ErrInvalidConfig)
		}
	}

	return &Runner{
		cfg:   cfg,
		opts:  opts,
		runID: uuid.NewString(),
	}, nil
}

// RunID identifies this runner's reports.
func (r *Runner) RunID() string { return r.runID }

// Progress returns a snapshot of the run so far. Safe to call concurrently
// with Run.
func (r *Runner) Progress() Progress {
	return Progress{
		RunID:     r.runID,
		Total:     r.cfg.Threads * r.cfg.Iterations,
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Rows:      r.rows.Load(),
	}
}

// Run executes the benchmark. Each of Threads workers runs Iterations
// pipelines one after another. The first failing pipeline cancels the
// others; the report holds every pipeline that finished, including the
// failed one.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:       r.runID,
		Backend:     r.cfg.Backend.Name(),
		Started:     time.Now(),
		MemoryLimit: r.cfg.MemoryLimit,
		Threads:     r.cfg.Threads,
		Iterations:  r.cfg.Iterations,
		Shuffle:     r.cfg.Shuffle != nil,
	}
	if r.cfg.Shuffle != nil {
		report.Codec = r.cfg.Shuffle.Codec.String()
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Threads)

	for thread := 0; thread < r.cfg.Threads; thread++ {
		g.Go(func() error {
			cpu := affinity.CPUFor(r.cfg.CPU, thread)
			if cpu >= 0 {
				if err := affinity.Pin(cpu); err != nil {
					if !errors.Is(err, affinity.ErrUnsupported) {
						return fmt.Errorf("pin thread %d to cpu %d: %w", thread, cpu, err)
					}
					r.opts.logger.Warn("cpu pinning unavailable", zap.Int("thread", thread))
				}
			}

			for iteration := 0; iteration < r.cfg.Iterations; iteration++ {
				if err := ctx.Err(); err != nil {
					return err
				}

				res, err := r.runPipeline(ctx, iteration, thread)
				res.CPU = cpu

				mu.Lock()
				report.Results = append(report.Results, res)
				mu.Unlock()

				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	report.Elapsed = time.Since(report.Started)
	if err != nil {
		report.Err = err.Error()
	}

	if sh := r.cfg.Shuffle; sh != nil {
		st := sh.Controller.IOStats()
		r.opts.logger.Info("Spill IO",
			zap.Int64("spilled_bytes", st.SpilledBytes),
			zap.Int64("restored_bytes", st.RestoredBytes),
			zap.Duration("throttled", st.Throttled),
		)
	}

	r.opts.logger.LogRunComplete(len(report.Results), report.Totals().Rows, report.Elapsed, err)
	return report, err
}

func (r *Runner) runPipeline(ctx context.Context, iteration, thread int) (res Result, err error) {
	res = Result{Iteration: iteration, Thread: thread, CPU: -1}
	logger := r.opts.logger.WithPipeline(iteration, thread)
	start := time.Now()

	var (
		listener *memory.BudgetListener
		it       batch.Iterator
		sw       *shuffle.Writer
	)

	defer func() {
		res.finish(time.Since(start))
		if listener != nil {
			stats := listener.Stats()
			res.PeakBytes = stats.Peak
			res.Crossings = stats.Crossings
			res.FailedMitigations = stats.FailedMitigations
			res.FreedBytes = stats.Freed
			r.opts.metrics.RecordMemoryUsage(stats.Used, stats.Peak)
		}
		if err != nil {
			res.Err = err.Error()
			r.failed.Add(1)
		}
		r.completed.Add(1)
		r.rows.Add(res.Rows)
		r.opts.metrics.RecordIteration(res.Rows, res.Batches, res.Elapsed, err)
		logger.LogIteration(res.Rows, res.Batches, res.Elapsed, err)
	}()

	listener, err = memory.NewBudgetListener(r.cfg.MemoryLimit,
		memory.WithMitigationOrder(r.cfg.Order),
		memory.WithReliefAccounting(r.cfg.Relief),
		memory.WithLogger(logger.Logger),
		memory.WithMitigationHook(func(m memory.Mitigation) {
			r.opts.metrics.RecordMitigation(m.Freed, m.Duration, m.Err)
			logger.LogMitigation(m)
		}),
	)
	if err != nil {
		return res, err
	}
	pool := memory.NewPool(fmt.Sprintf("pipeline-%d-%d", iteration, thread), listener)

	it, err = r.cfg.Backend.Open(ctx, r.cfg.Plan, r.cfg.Splits, pool)
	if err != nil {
		return res, fmt.Errorf("open %s iterator: %w", r.cfg.Backend.Name(), err)
	}
	defer func() {
		err = errors.Join(err, it.Close())
		if scan, ok := it.(*batch.ScanIterator); ok {
			res.Reloads = scan.Reloads()
		}
	}()
	if rec, ok := it.(memory.Reclaimer); ok {
		defer listener.BindIterator(rec)()
	}

	if sh := r.cfg.Shuffle; sh != nil {
		dataFile := sh.LocalDirs.DataFile()
		defer func() {
			err = errors.Join(err, shuffle.RemoveDataFile(dataFile))
		}()

		opts := []shuffle.Option{
			shuffle.WithPartitioner(sh.Partitioner),
			shuffle.WithCodec(sh.Codec),
			shuffle.WithResourceController(sh.Controller),
			shuffle.WithLogger(logger.Logger),
		}
		if sh.SpillStore != nil {
			opts = append(opts, shuffle.WithSpillStore(sh.SpillStore))
		}
		if sh.BlockSize > 0 {
			opts = append(opts, shuffle.WithBlockSize(sh.BlockSize))
		}

		sw, err = shuffle.NewWriter(pool, dataFile, sh.Partitions, opts...)
		if err != nil {
			return res, err
		}
		defer func() {
			err = errors.Join(err, sw.Close())
		}()
		defer listener.BindWriter(sw)()
	}

	var bytes int64
	res.Rows, res.Batches, err = batch.Drain(ctx, it, func(b *batch.ColumnarBatch) error {
		bytes += int64(len(b.Bytes()))
		if sw != nil {
			return sw.Write(ctx, b)
		}
		return nil
	})
	res.Bytes = bytes
	if err != nil {
		return res, err
	}

	if sw != nil {
		m, err := sw.Stop(ctx)
		if err != nil {
			return res, fmt.Errorf("stop shuffle writer: %w", err)
		}
		res.Spills = m.SpillCount
		res.SpilledBytes = m.SpilledBytes
		res.ShuffleBytes = m.BytesWritten
		r.opts.metrics.RecordSpill(m.SpillCount, m.SpilledBytes, m.SpillTime)
		logger.LogSpill(m.SpillCount, m.SpilledBytes, m.SpillTime)
	}

	return res, listener.Err()
}
