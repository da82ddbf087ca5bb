package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Setenv("COLBENCH_TEST_DATA", "/data/lineitem")

	cfg, err := Parse([]byte(`
data: ${COLBENCH_TEST_DATA}
plan: ${COLBENCH_TEST_PLAN:-}
threads: 4
memory_limit: 256MiB
shuffle:
  enabled: true
  partitions: 8
  partitioner: hash
  codec: zstd
  spill_rate: 64MiB
report:
  sinks: [text, json]
`))
	require.NoError(t, err)

	assert.Equal(t, "/data/lineitem", cfg.Data)
	assert.Empty(t, cfg.Plan)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, ByteSize(256<<20), cfg.MemoryLimit)
	assert.Equal(t, ByteSize(64<<20), cfg.Shuffle.SpillRate)
	assert.True(t, cfg.Shuffle.Enabled)
	assert.Equal(t, "hash", cfg.Shuffle.Partitioner)
	assert.Equal(t, []string{"text", "json"}, cfg.Report.Sinks)

	// Defaults.
	assert.Equal(t, "parquet", cfg.SplitFormat)
	assert.Equal(t, 4096, cfg.BatchSize)
	assert.Equal(t, 1, cfg.Iterations)
	assert.Equal(t, -1, cfg.CPU)
	assert.Equal(t, "writer_first", cfg.Memory.Order)
	assert.Equal(t, "observed", cfg.Memory.Relief)
	assert.Equal(t, int64(1), cfg.Shuffle.SpillJobs)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"no input":       `threads: 2`,
		"split format":   "data: d\nsplit_format: csv",
		"memory size":    "data: d\nmemory_limit: lots",
		"order":          "data: d\nmemory:\n  order: random",
		"relief":         "data: d\nmemory:\n  relief: maybe",
		"partitioner":    "data: d\nshuffle:\n  partitioner: range",
		"codec":          "data: d\nshuffle:\n  codec: snappy",
		"sink":           "data: d\nreport:\n  sinks: [kafka]",
		"dynamodb table": "data: d\nreport:\n  sinks: [dynamodb]",
		"redis addrs":    "data: d\nreport:\n  sinks: [redis]",
		"cpu":            "data: d\ncpu: -2",
		"yaml":           "data: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte(`threads: 2`))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data: ./data\niterations: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Iterations)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRegisterFlags(t *testing.T) {
	cfg := Default()
	cfg.Data = "from-file"
	cfg.Threads = 2

	fs := flag.NewFlagSet("colbench", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-threads", "8",
		"-memory-limit", "1GiB",
		"-shuffle",
		"-report", "text, redis",
		"-spill-rate", "1048576",
	}))

	assert.Equal(t, "from-file", cfg.Data)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, ByteSize(1<<30), cfg.MemoryLimit)
	assert.Equal(t, ByteSize(1<<20), cfg.Shuffle.SpillRate)
	assert.True(t, cfg.Shuffle.Enabled)
	assert.Equal(t, []string{"text", "redis"}, cfg.Report.Sinks)

	fs = flag.NewFlagSet("colbench", flag.ContinueOnError)
	fs.SetOutput(nopWriter{})
	cfg.RegisterFlags(fs)
	assert.Error(t, fs.Parse([]string{"-memory-limit", "many"}))
}

func TestByteSize(t *testing.T) {
	b, err := ParseByteSize("2KiB")
	require.NoError(t, err)
	assert.Equal(t, ByteSize(2048), b)
	assert.Equal(t, "2.0 KiB", b.String())
	assert.Equal(t, "0", ByteSize(0).String())

	b, err = ParseByteSize("  ")
	require.NoError(t, err)
	assert.Zero(t, b)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ENV", "")
	assert.Equal(t, "local", GetEnv())
	t.Setenv("ENV", "prod")
	assert.Equal(t, "prod", GetEnv())
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("COLBENCH_A", "x")
	out := expandEnvVars([]byte("${COLBENCH_A}-${COLBENCH_UNSET:-def}-${COLBENCH_UNSET}"))
	assert.Equal(t, "x-def-", string(out))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestReadFile_SkipsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: 8\n"), 0o644))

	cfg, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, "parquet", cfg.SplitFormat)
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg.Data = "./data"
	assert.NoError(t, cfg.Validate())
}

func TestDecode_InvalidYAML(t *testing.T) {
	_, err := Decode([]byte("threads: [1"))
	assert.ErrorIs(t, err, ErrInvalid)
}
