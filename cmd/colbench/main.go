// Command colbench runs a columnar scan (and optional shuffle) benchmark under
// a per-pipeline memory budget.
//
//	colbench -data ./tpch/lineitem -threads 4 -iterations 3 -memory-limit 256MiB \
//	    -shuffle -partitioner hash -codec zstd -metrics-addr :9090 -report text,json
//
// Exit codes: 0 on success, 1 on configuration or run errors, 2 when a
// pipeline exhausted its memory budget.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hupe1980/colbench"
	"github.com/hupe1980/colbench/batch"
	"github.com/hupe1980/colbench/bench"
	"github.com/hupe1980/colbench/blobstore/provider"
	"github.com/hupe1980/colbench/internal/config"
	"github.com/hupe1980/colbench/internal/prom"
	"github.com/hupe1980/colbench/internal/server"
	"github.com/hupe1980/colbench/memory"
	"github.com/hupe1980/colbench/plan"
	"github.com/hupe1980/colbench/report"
	"github.com/hupe1980/colbench/resource"
	"github.com/hupe1980/colbench/shuffle"
	"github.com/hupe1980/colbench/split"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return colbench.ExitOK
		}
		fmt.Fprintln(stderr, "colbench:", err)
		return colbench.ExitConfigError
	}

	logger, err := colbench.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(stderr, "colbench:", err)
		return colbench.ExitConfigError
	}
	defer func() { _ = logger.Sync() }()

	if err := execute(ctx, cfg, logger, stdout); err != nil {
		logger.Error("colbench failed", zap.Error(err))
		return colbench.ExitCode(err)
	}
	return colbench.ExitOK
}

// parseConfig loads the file named by -config (if any) and applies flag
// overrides on top of it.
func parseConfig(args []string, output io.Writer) (config.Config, error) {
	path := configPathFromArgs(args)

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.ReadFile(path); err != nil {
			return config.Config{}, err
		}
	}

	fs := flag.NewFlagSet("colbench", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.String("config", path, "path to a YAML config file")
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("%w: unexpected arguments %v", config.ErrInvalid, fs.Args())
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func configPathFromArgs(args []string) string {
	for i, a := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func execute(ctx context.Context, cfg config.Config, logger *colbench.Logger, stdout io.Writer) error {
	p, splits, err := resolveInputs(cfg)
	if err != nil {
		return err
	}
	logger.Info("Resolved splits",
		zap.String("format", string(splits.Format)),
		zap.Int("items", len(splits.Items)),
		zap.Int64("bytes", splits.TotalBytes()),
	)

	runCfg := bench.Config{
		Plan:        p,
		Splits:      splits,
		Backend:     &batch.ScanBackend{BatchSize: cfg.BatchSize, Readahead: cfg.Readahead, Logger: logger.Logger},
		Threads:     cfg.Threads,
		Iterations:  cfg.Iterations,
		CPU:         cfg.CPU,
		MemoryLimit: int64(cfg.MemoryLimit),
		Order:       memory.WriterFirst,
		Relief:      memory.ReliefObserved,
	}
	if cfg.Memory.Order == "iterator_first" {
		runCfg.Order = memory.IteratorFirst
	}
	if cfg.Memory.Relief == "applied" {
		runCfg.Relief = memory.ReliefApplied
	}

	if cfg.Shuffle.Enabled {
		sh, cleanup, err := shuffleConfig(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := cleanup(); err != nil {
				logger.Warn("Failed to clean up shuffle output", zap.Error(err))
			}
		}()
		runCfg.Shuffle = sh
	}

	sinks, err := openSinks(ctx, cfg, stdout)
	if err != nil {
		return err
	}
	defer func() { _ = sinks.Close() }()

	var collector colbench.MetricsCollector = &colbench.NoopMetricsCollector{}
	var reg *prometheus.Registry
	if cfg.Metrics.Addr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = prom.NewCollector(reg)
	}

	runner, err := bench.NewRunner(runCfg,
		bench.WithLogger(logger),
		bench.WithMetricsCollector(collector),
	)
	if err != nil {
		return err
	}

	if reg != nil {
		srv := server.New(cfg.Metrics.Addr, reg, func() any { return runner.Progress() }, logger.Logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutCtx); err != nil {
				logger.Error("Error during metrics server shutdown", zap.Error(err))
			}
		}()
	}

	logger.Info("Starting benchmark",
		zap.String("run_id", runner.RunID()),
		zap.Int("threads", cfg.Threads),
		zap.Int("iterations", cfg.Iterations),
		zap.Stringer("memory_limit", cfg.MemoryLimit),
		zap.Bool("shuffle", cfg.Shuffle.Enabled),
	)

	rep, runErr := runner.Run(ctx)

	// Sinks get partial reports too; a failed run is still worth recording.
	// They use a fresh context so an interrupted run can still be reported.
	if err := sinks.Write(context.WithoutCancel(ctx), rep); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// resolveInputs loads the plan and picks the splits: -data wins over the
// plan's local files.
func resolveInputs(cfg config.Config) (*plan.Plan, *split.Info, error) {
	var p *plan.Plan
	if cfg.Plan != "" {
		path := cfg.Plan
		if !split.Exists(path) && cfg.Data != "" {
			// A plan name relative to a generated benchmark directory.
			if generated, err := plan.GeneratedFilePath(cfg.Data, cfg.Plan); err == nil {
				path = generated
			}
		}
		var err error
		if p, err = plan.Load(path); err != nil {
			return nil, nil, err
		}
	}

	if cfg.Data == "" {
		splits, err := split.FromPlan(p)
		return p, splits, err
	}

	format, err := split.ParseFormat(cfg.SplitFormat)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Stat(cfg.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("data %s: %w", cfg.Data, err)
	}
	if info.IsDir() {
		splits, err := split.FromDirectory(cfg.Data, format)
		return p, splits, err
	}
	splits, err := split.FromFile(cfg.Data, format)
	return p, splits, err
}

func shuffleConfig(ctx context.Context, cfg config.Config) (*bench.ShuffleConfig, func() error, error) {
	codec, err := shuffle.ParseCodec(cfg.Shuffle.Codec)
	if err != nil {
		return nil, nil, err
	}

	dirs, err := shuffle.LocalDirsFromEnv()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return dirs.CleanupOutput("") }

	store, err := provider.Open(ctx, cfg.Shuffle.SpillURI, dirs.Dirs)
	if err != nil {
		return nil, nil, errors.Join(err, cleanup())
	}

	return &bench.ShuffleConfig{
		Partitions:  cfg.Shuffle.Partitions,
		Partitioner: cfg.Shuffle.Partitioner,
		Codec:       codec,
		LocalDirs:   dirs,
		SpillStore:  store,
		Controller: resource.NewController(resource.Config{
			MaxSpillJobs:     cfg.Shuffle.SpillJobs,
			SpillBytesPerSec: int64(cfg.Shuffle.SpillRate),
		}),
	}, cleanup, nil
}

func openSinks(ctx context.Context, cfg config.Config, stdout io.Writer) (report.Multi, error) {
	var sinks report.Multi
	for _, name := range cfg.Report.Sinks {
		switch name {
		case "text":
			sinks = append(sinks, report.NewTextSink(stdout))
		case "json":
			sinks = append(sinks, report.NewJSONSink(cfg.Report.JSONPath))
		case "dynamodb":
			s, err := report.DialDynamoDB(ctx, cfg.Report.DynamoDBTable)
			if err != nil {
				return nil, errors.Join(err, sinks.Close())
			}
			sinks = append(sinks, s)
		case "redis":
			s, err := report.DialRedis(report.RedisConfig{
				Addrs:    cfg.Report.RedisAddrs,
				Password: cfg.Report.RedisPassword,
				Prefix:   cfg.Report.RedisKey,
			})
			if err != nil {
				return nil, errors.Join(err, sinks.Close())
			}
			sinks = append(sinks, s)
		default:
			return nil, fmt.Errorf("%w: unknown report sink %q", config.ErrInvalid, name)
		}
	}
	return sinks, nil
}
