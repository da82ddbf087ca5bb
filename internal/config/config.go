// Package config loads benchmark settings from YAML and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/colbench/shuffle"
	"github.com/hupe1980/colbench/split"
)

// ErrInvalid is matched by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config holds the settings of a benchmark run.
type Config struct {
	Plan        string        `yaml:"plan"`
	Data        string        `yaml:"data"`
	SplitFormat string        `yaml:"split_format"`
	BatchSize   int           `yaml:"batch_size"`
	Readahead   int           `yaml:"readahead"`
	CPU         int           `yaml:"cpu"` // first cpu to pin to, -1 disables pinning
	Threads     int           `yaml:"threads"`
	Iterations  int           `yaml:"iterations"`
	MemoryLimit ByteSize      `yaml:"memory_limit"`
	Memory      MemoryConfig  `yaml:"memory"`
	Shuffle     ShuffleConfig `yaml:"shuffle"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Logging     LoggingConfig `yaml:"logging"`
	Report      ReportConfig  `yaml:"report"`
}

// MemoryConfig holds mitigation settings.
type MemoryConfig struct {
	Order  string `yaml:"order"`  // writer_first (default), iterator_first
	Relief string `yaml:"relief"` // observed (default), applied
}

// ShuffleConfig holds partitioned writer settings.
type ShuffleConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Partitions  int      `yaml:"partitions"`
	Partitioner string   `yaml:"partitioner"` // single, roundrobin, hash
	Codec       string   `yaml:"codec"`       // none, lz4, zstd
	SpillURI    string   `yaml:"spill_uri"`   // file://, mem://, minio://, s3://
	SpillRate   ByteSize `yaml:"spill_rate"`  // bytes per second, 0 = unlimited
	SpillJobs   int64    `yaml:"spill_jobs"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // prod, local, dev, docker
	Level string `yaml:"level"` // debug, info, warn, error
}

// ReportConfig holds result sink settings.
type ReportConfig struct {
	Sinks         []string `yaml:"sinks"` // text, json, dynamodb, redis
	JSONPath      string   `yaml:"json_path"`
	DynamoDBTable string   `yaml:"dynamodb_table"`
	RedisAddrs    []string `yaml:"redis_addrs"`
	RedisPassword string   `yaml:"redis_password"`
	RedisKey      string   `yaml:"redis_key"`
}

// ByteSize is a byte count that parses human-readable sizes like 256MiB.
type ByteSize int64

// ParseByteSize parses a plain byte count or a size with a unit suffix.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

func (b ByteSize) String() string {
	if b == 0 {
		return "0"
	}
	return humanize.IBytes(uint64(b))
}

// UnmarshalYAML accepts both integers and strings with units.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseByteSize(node.Value)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Set implements flag.Value.
func (b *ByteSize) Set(s string) error {
	v, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.CPU = -1
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and validates configuration from a YAML file. ${VAR} and
// ${VAR:-default} references are replaced by environment values before
// parsing.
func Load(path string) (Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadFile is Load without validation, for callers that apply flag
// overrides before validating.
func ReadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Decode(data)
}

// Parse decodes, defaults and validates YAML configuration.
func Parse(data []byte) (Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode expands environment references, decodes YAML and applies defaults.
func Decode(data []byte) (Config, error) {
	data = expandEnvVars(data)

	cfg := Config{CPU: -1}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: failed to parse config: %w", ErrInvalid, err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.SplitFormat == "" {
		c.SplitFormat = string(split.Parquet)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 4096
	}
	if c.Readahead <= 0 {
		c.Readahead = 4
	}
	if c.Threads <= 0 {
		c.Threads = 1
	}
	if c.Iterations <= 0 {
		c.Iterations = 1
	}
	if c.Memory.Order == "" {
		c.Memory.Order = "writer_first"
	}
	if c.Memory.Relief == "" {
		c.Memory.Relief = "observed"
	}
	if c.Shuffle.Partitions <= 0 {
		c.Shuffle.Partitions = 16
	}
	if c.Shuffle.Partitioner == "" {
		c.Shuffle.Partitioner = "roundrobin"
	}
	if c.Shuffle.Codec == "" {
		c.Shuffle.Codec = "lz4"
	}
	if c.Shuffle.SpillJobs <= 0 {
		c.Shuffle.SpillJobs = 1
	}
	if c.Logging.Env == "" {
		c.Logging.Env = GetEnv()
	}
	if len(c.Report.Sinks) == 0 {
		c.Report.Sinks = []string{"text"}
	}
	if c.Report.JSONPath == "" {
		c.Report.JSONPath = "colbench-report.json"
	}
	if c.Report.RedisKey == "" {
		c.Report.RedisKey = "colbench:run:"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Plan == "" && c.Data == "" {
		return fmt.Errorf("%w: one of plan or data is required", ErrInvalid)
	}
	if _, err := split.ParseFormat(c.SplitFormat); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("%w: memory_limit must not be negative", ErrInvalid)
	}
	if c.CPU < -1 {
		return fmt.Errorf("%w: cpu must be -1 or a cpu index, got %d", ErrInvalid, c.CPU)
	}
	switch c.Memory.Order {
	case "writer_first", "iterator_first":
	default:
		return fmt.Errorf("%w: memory.order must be writer_first or iterator_first, got %q", ErrInvalid, c.Memory.Order)
	}
	switch c.Memory.Relief {
	case "observed", "applied":
	default:
		return fmt.Errorf("%w: memory.relief must be observed or applied, got %q", ErrInvalid, c.Memory.Relief)
	}
	if _, err := shuffle.NewPartitioner(c.Shuffle.Partitioner, c.Shuffle.Partitions); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := shuffle.ParseCodec(c.Shuffle.Codec); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for _, s := range c.Report.Sinks {
		switch s {
		case "text", "json":
		case "dynamodb":
			if c.Report.DynamoDBTable == "" {
				return fmt.Errorf("%w: report.dynamodb_table is required for the dynamodb sink", ErrInvalid)
			}
		case "redis":
			if len(c.Report.RedisAddrs) == 0 {
				return fmt.Errorf("%w: report.redis_addrs is required for the redis sink", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: unknown report sink %q", ErrInvalid, s)
		}
	}
	return nil
}

// RegisterFlags binds command-line flags to c. Values already in c are the
// flag defaults, so flags override a loaded file.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Plan, "plan", c.Plan, "path to a Substrait JSON plan")
	fs.StringVar(&c.Data, "data", c.Data, "directory or file with split data")
	fs.StringVar(&c.SplitFormat, "split-format", c.SplitFormat, "split file format: parquet, orc, dwrf")
	fs.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "rows per batch")
	fs.IntVar(&c.CPU, "cpu", c.CPU, "first cpu to pin workers to (-1 disables pinning)")
	fs.IntVar(&c.Threads, "threads", c.Threads, "concurrent pipelines per iteration")
	fs.IntVar(&c.Iterations, "iterations", c.Iterations, "benchmark iterations")
	fs.Var(&c.MemoryLimit, "memory-limit", "memory budget per pipeline, e.g. 256MiB (0 = unlimited)")
	fs.BoolVar(&c.Shuffle.Enabled, "shuffle", c.Shuffle.Enabled, "write batches through the partitioned shuffle writer")
	fs.IntVar(&c.Shuffle.Partitions, "partitions", c.Shuffle.Partitions, "shuffle partitions")
	fs.StringVar(&c.Shuffle.Partitioner, "partitioner", c.Shuffle.Partitioner, "shuffle partitioner: single, roundrobin, hash")
	fs.StringVar(&c.Shuffle.Codec, "codec", c.Shuffle.Codec, "shuffle compression: none, lz4, zstd")
	fs.StringVar(&c.Shuffle.SpillURI, "spill-uri", c.Shuffle.SpillURI, "spill store: file://dir, mem://, minio://bucket/prefix, s3://bucket/prefix")
	fs.Var(&c.Shuffle.SpillRate, "spill-rate", "spill IO limit per second, e.g. 64MiB (0 = unlimited)")
	fs.StringVar(&c.Metrics.Addr, "metrics-addr", c.Metrics.Addr, "address for /metrics and /healthz (empty disables)")
	fs.Func("report", "comma-separated report sinks: text, json, dynamodb, redis", func(s string) error {
		c.Report.Sinks = nil
		for _, sink := range strings.Split(s, ",") {
			if sink = strings.TrimSpace(sink); sink != "" {
				c.Report.Sinks = append(c.Report.Sinks, sink)
			}
		}
		return nil
	})
	fs.StringVar(&c.Logging.Level, "log-level", c.Logging.Level, "log level: debug, info, warn, error")
	fs.StringVar(&c.Logging.Env, "env", c.Logging.Env, "logging environment: prod, local, dev, docker")
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
