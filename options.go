package diskindex

import (
	"github.com/hupe1980/diskindex/diskmap"
	"github.com/hupe1980/diskindex/internal/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	rebuildRate      int64
	workers          int
	mapOptions       []diskmap.Option
}

// Option configures Create and Open.
type Option func(*options)

// WithMetricsCollector sets a metrics collector.
//
// If nil is passed, metrics are not collected.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger sets a logger. The index name is added to every record.
//
// If nil is passed, logging is disabled.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithRebuildRate limits Rebuild to opsPerSec records per second.
func WithRebuildRate(opsPerSec int64) Option {
	return func(o *options) {
		o.rebuildRate = opsPerSec
	}
}

// WithWorkers sets the embedding concurrency of vector rebuilds.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithMapOptions passes options to every DiskMap the index creates, e.g.
// diskmap.WithCacheSize for MatrixHashMap-backed maps.
func WithMapOptions(opts ...diskmap.Option) Option {
	return func(o *options) {
		o.mapOptions = append(o.mapOptions, opts...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

func (o options) controller() *resource.Controller {
	if o.rebuildRate <= 0 {
		return nil
	}
	return resource.NewController(resource.Config{OpsPerSec: o.rebuildRate})
}
