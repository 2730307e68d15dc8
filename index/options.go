package index

import (
	"log/slog"

	"github.com/hupe1980/diskindex/diskmap"
	"github.com/hupe1980/diskindex/internal/resource"
)

// Option configures an Interactor.
type Option func(*options)

type options struct {
	field      string
	logger     *slog.Logger
	controller *resource.Controller
	inverse    diskmap.Config
	mapOpts    []diskmap.Option
}

func buildOptions(optFns []Option) options {
	o := options{}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// WithField sets the record field Rebuild extracts index values from.
func WithField(name string) Option {
	return func(o *options) { o.field = name }
}

// WithLogger sets the logger. Mutations log at Debug, rebuilds at Info.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithController throttles Rebuild through the controller's ops limiter.
func WithController(c *resource.Controller) Option {
	return func(o *options) { o.controller = c }
}

// WithRebuildRate limits Rebuild to opsPerSec records per second.
func WithRebuildRate(opsPerSec int64) Option {
	return func(o *options) {
		o.controller = resource.NewController(resource.Config{OpsPerSec: opsPerSec})
	}
}

// WithInverseConfig selects the DiskMap variant of the record-to-value map.
// The default is a SkipListMap.
func WithInverseConfig(cfg diskmap.Config) Option {
	return func(o *options) { o.inverse = cfg }
}

// WithMapOptions passes options to every DiskMap the interactor creates.
func WithMapOptions(opts ...diskmap.Option) Option {
	return func(o *options) { o.mapOpts = append(o.mapOpts, opts...) }
}
