package colbench

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hupe1980/colbench/memory"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewLoggerFrom(zap.New(core)), logs
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev", "docker", ""} {
		l, err := NewLogger(env, "warn")
		require.NoError(t, err, env)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	}

	_, err := NewLogger("staging", "")
	assert.Error(t, err)

	_, err = NewLogger("prod", "loud")
	assert.Error(t, err)
}

func TestLogger_LogMitigation(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)

	l.LogMitigation(memory.Mitigation{Used: 1200, Limit: 1000, Needed: 200, Freed: 300})
	l.LogMitigation(memory.Mitigation{Used: 1200, Limit: 1000, Needed: 200, Err: errors.New("short")})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "mitigation completed", entries[0].Message)
	assert.Equal(t, int64(300), entries[0].ContextMap()["freed"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestLogger_Pipeline(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)
	pl := l.WithPipeline(2, 3)

	pl.LogIteration(100, 4, time.Second, nil)
	pl.LogSpill(0, 0, 0)
	pl.LogSpill(2, 4096, time.Millisecond)
	pl.LogRunComplete(6, 600, time.Second, errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "pipeline completed", entries[0].Message)
	assert.Equal(t, int64(2), entries[0].ContextMap()["iteration"])
	assert.Equal(t, int64(3), entries[0].ContextMap()["thread"])
	assert.Equal(t, "shuffle spilled", entries[1].Message)
	assert.Equal(t, "benchmark run failed", entries[2].Message)
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	l.LogIteration(1, 1, time.Millisecond, errors.New("ignored"))
	assert.False(t, l.Core().Enabled(zapcore.ErrorLevel))
	assert.NotNil(t, NewLoggerFrom(nil).Logger)
}
