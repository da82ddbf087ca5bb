package shuffle

import (
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/colbench/batch"
)

// Partitioner assigns encoded rows to partitions.
type Partitioner interface {
	Name() string
	NumPartitions() int
	Partition(row []byte) int
}

// NewPartitioner returns the partitioner called name over n partitions.
// Known names are single, roundrobin and hash.
func NewPartitioner(name string, n int) (Partitioner, error) {
	switch name {
	case "single":
		return singlePartitioner{}, nil
	case "", "roundrobin", "rr":
		if n <= 0 {
			return nil, fmt.Errorf("roundrobin partitioner: invalid partition count %d", n)
		}
		return &roundRobinPartitioner{n: n}, nil
	case "hash":
		if n <= 0 {
			return nil, fmt.Errorf("hash partitioner: invalid partition count %d", n)
		}
		return hashPartitioner{n: n}, nil
	default:
		return nil, fmt.Errorf("unknown partitioner %q", name)
	}
}

type singlePartitioner struct{}

func (singlePartitioner) Name() string         { return "single" }
func (singlePartitioner) NumPartitions() int   { return 1 }
func (singlePartitioner) Partition([]byte) int { return 0 }

type roundRobinPartitioner struct {
	n    int
	next atomic.Uint64
}

func (p *roundRobinPartitioner) Name() string       { return "roundrobin" }
func (p *roundRobinPartitioner) NumPartitions() int { return p.n }

func (p *roundRobinPartitioner) Partition([]byte) int {
	return int((p.next.Add(1) - 1) % uint64(p.n))
}

// hashPartitioner hashes the first column; null keys go to partition 0.
type hashPartitioner struct {
	n int
}

func (p hashPartitioner) Name() string       { return "hash" }
func (p hashPartitioner) NumPartitions() int { return p.n }

func (p hashPartitioner) Partition(row []byte) int {
	key, ok := batch.DecodeValue(row, 0)
	if !ok {
		return 0
	}
	return int(xxhash.Sum64(key) % uint64(p.n))
}
