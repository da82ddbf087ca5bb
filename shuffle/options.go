package shuffle

import (
	"go.uber.org/zap"

	"github.com/hupe1980/colbench/blobstore"
	"github.com/hupe1980/colbench/internal/fs"
	"github.com/hupe1980/colbench/resource"
)

type options struct {
	partitioner string
	codec       Codec
	store       blobstore.Store
	controller  *resource.Controller
	fs          fs.FileSystem
	blockSize   int
	logger      *zap.Logger
}

// Option configures a Writer.
type Option func(*options)

// WithPartitioner selects the partitioner by name: single, roundrobin or hash.
// The default is roundrobin.
func WithPartitioner(name string) Option {
	return func(o *options) {
		o.partitioner = name
	}
}

// WithCodec sets the block compression. The default is CodecNone.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithSpillStore sets where spilled partitions are written.
// The default is a LocalStore over the writer's data directory.
func WithSpillStore(s blobstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithResourceController bounds concurrent spills and their throughput.
func WithResourceController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithFileSystem sets the file system used for the final data file.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithBlockSize sets the uncompressed size of a compression block.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
