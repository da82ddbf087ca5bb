package colbench

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hupe1980/colbench/memory"
)

// Logger wraps zap.Logger with benchmark-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*zap.Logger
}

// NewLogger creates a Logger for the given environment.
// prod uses JSON output, local/dev/docker use console output.
// level (if non-empty) overrides the log level: debug, info, warn, error.
func NewLogger(env, level string) (*Logger, error) {
	var cfg zap.Config
	switch env {
	case "prod":
		cfg = zap.NewProductionConfig()
	case "", "local", "dev", "docker":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown environment %q for logger", env)
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{Logger: l}, nil
}

// NewLoggerFrom wraps an existing zap logger. A nil logger discards output.
func NewLoggerFrom(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{Logger: l}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithPipeline tags the logger with an iteration and thread.
func (l *Logger) WithPipeline(iteration, thread int) *Logger {
	return &Logger{
		Logger: l.Logger.With(zap.Int("iteration", iteration), zap.Int("thread", thread)),
	}
}

// LogMitigation logs a mitigation pass.
func (l *Logger) LogMitigation(m memory.Mitigation) {
	fields := []zap.Field{
		zap.Int64("used", m.Used),
		zap.Int64("limit", m.Limit),
		zap.Int64("needed", m.Needed),
		zap.Int64("freed", m.Freed),
		zap.Duration("duration", m.Duration),
	}
	if m.Err != nil {
		l.Error("mitigation failed", append(fields, zap.Error(m.Err))...)
		return
	}
	l.Debug("mitigation completed", fields...)
}

// LogSpill logs the spills of a finished shuffle.
func (l *Logger) LogSpill(spills, spilledBytes int64, d time.Duration) {
	if spills == 0 {
		return
	}
	l.Info("shuffle spilled",
		zap.Int64("spills", spills),
		zap.Int64("spilled_bytes", spilledBytes),
		zap.Duration("spill_time", d),
	)
}

// LogIteration logs one pipeline run.
func (l *Logger) LogIteration(rows, batches int64, elapsed time.Duration, err error) {
	if err != nil {
		l.Error("pipeline failed",
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return
	}
	l.Info("pipeline completed",
		zap.Int64("rows", rows),
		zap.Int64("batches", batches),
		zap.Duration("elapsed", elapsed),
	)
}

// LogRunComplete logs the end of a benchmark run.
func (l *Logger) LogRunComplete(pipelines int, rows int64, elapsed time.Duration, err error) {
	if err != nil {
		l.Error("benchmark run failed",
			zap.Int("pipelines", pipelines),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return
	}
	l.Info("benchmark run completed",
		zap.Int("pipelines", pipelines),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	)
}
