package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/hupe1980/colbench/bench"
)

// RedisConfig holds connection parameters for the Redis sink.
type RedisConfig struct {
	Addrs    []string
	Password string
	Prefix   string        // key prefix, e.g. "colbench:run:"
	TTL      time.Duration // 0 keeps keys forever
}

// RedisSink stores the run summary in the hash <prefix><run id> and each
// pipeline in <prefix><run id>:<iteration>#<thread>.
type RedisSink struct {
	client rueidis.Client
	prefix string
	ttl    time.Duration
}

// DialRedis connects a Redis sink.
func DialRedis(cfg RedisConfig) (*RedisSink, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Password:     cfg.Password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisSink(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisSink creates a sink over an existing client.
func NewRedisSink(client rueidis.Client, prefix string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// Name implements Sink.
func (*RedisSink) Name() string { return "redis" }

// Key returns the summary hash key of a run.
func (s *RedisSink) Key(runID string) string { return s.prefix + runID }

// Write implements Sink. All hashes are written in one round-trip.
func (s *RedisSink) Write(ctx context.Context, r *bench.Report) error {
	key := s.Key(r.RunID)
	t := r.Totals()

	cmds := make([]rueidis.Completed, 0, len(r.Results)*2+2)
	cmds = append(cmds, s.hset(key, [][2]string{
		{"backend", r.Backend},
		{"started", r.Started.UTC().Format(time.RFC3339Nano)},
		{"elapsed_ns", strconv.FormatInt(r.Elapsed.Nanoseconds(), 10)},
		{"memory_limit", strconv.FormatInt(r.MemoryLimit, 10)},
		{"pipelines", strconv.Itoa(t.Pipelines)},
		{"failed", strconv.Itoa(t.Failed)},
		{"rows", strconv.FormatInt(t.Rows, 10)},
		{"peak_bytes", strconv.FormatInt(t.PeakBytes, 10)},
		{"spills", strconv.FormatInt(t.Spills, 10)},
		{"error", r.Err},
	}))
	keys := []string{key}

	for _, res := range r.Results {
		k := key + ":" + pipelineKey(res)
		cmds = append(cmds, s.hset(k, [][2]string{
			{"rows", strconv.FormatInt(res.Rows, 10)},
			{"elapsed_ns", strconv.FormatInt(res.Elapsed.Nanoseconds(), 10)},
			{"peak_bytes", strconv.FormatInt(res.PeakBytes, 10)},
			{"crossings", strconv.FormatInt(res.Crossings, 10)},
			{"spills", strconv.FormatInt(res.Spills, 10)},
			{"error", res.Err},
		}))
		keys = append(keys, k)
	}

	if s.ttl > 0 {
		for _, k := range keys {
			cmds = append(cmds, s.client.B().Expire().Key(k).Seconds(int64(s.ttl.Seconds())).Build())
		}
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("redis command %d: %w", i, err)
		}
	}
	return nil
}

func (s *RedisSink) hset(key string, fields [][2]string) rueidis.Completed {
	cmd := s.client.B().Hset().Key(key).FieldValue()
	for _, f := range fields {
		cmd = cmd.FieldValue(f[0], f[1])
	}
	return cmd.Build()
}

// Close closes the client.
func (s *RedisSink) Close() error {
	s.client.Close()
	return nil
}
