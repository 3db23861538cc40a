package annbridge

import (
	"github.com/hupe1980/annbridge/backend"
	"github.com/hupe1980/annbridge/backend/flat"
	"github.com/hupe1980/annbridge/blockstore"
	"github.com/hupe1980/annbridge/resource"
)

type options struct {
	engine   backend.Engine
	alloc    blockstore.Allocator
	logger   *Logger
	metrics  MetricsCollector
	rc       *resource.Controller
	location string
	baseDir  string
}

// Option configures index construction and load behavior.
type Option func(*options)

func applyOptions(optFns []Option) options {
	opts := options{
		metrics: NoopMetricsCollector{},
		logger:  NoopLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.engine == nil {
		opts.engine = flat.NewEngine(flat.WithResourceController(opts.rc))
	}
	if opts.alloc == nil {
		opts.alloc = blockstore.NewMemory(blockstore.DefaultBlockSize)
	}
	return opts
}

// WithEngine configures the vector backend. Defaults to the embedded
// flat engine.
func WithEngine(e backend.Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

// WithAllocator configures the host block allocator backing metadata
// persistence. Defaults to an in-memory allocator, which is fine for
// tests but gives up crash recovery.
func WithAllocator(a blockstore.Allocator) Option {
	return func(o *options) {
		o.alloc = a
	}
}

// WithLocation pins the dataset location instead of deriving a fresh
// temporary one. Used when reopening an index whose dataset already
// exists.
func WithLocation(location string) Option {
	return func(o *options) {
		o.location = location
	}
}

// WithBaseDir sets the directory under which fresh dataset locations
// are created. Defaults to the OS temp directory.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		o.baseDir = dir
	}
}

// WithResourceController throttles maintenance work (vacuum, index
// builds) through rc. A nil controller imposes no limits.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &annbridge.BasicMetricsCollector{}
//	idx, err := annbridge.NewIndex(def, annbridge.WithMetricsCollector(metrics))
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}
