package diskindex

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports index metrics to Prometheus.
type PrometheusCollector struct {
	ops      *prometheus.CounterVec
	errs     *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	results  prometheus.Histogram
	rebuilds prometheus.Counter
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collectors under namespace and registers
// them with reg. A nil reg uses prometheus.DefaultRegisterer. Collectors that
// are already registered are reused.
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PrometheusCollector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Index operations by kind.",
		}, []string{"op"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed index operations by kind.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Index operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_results",
			Help:      "Records returned per query.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuilds_total",
			Help:      "Completed index rebuilds.",
		}),
	}

	var err error
	if p.ops, err = register(reg, p.ops); err != nil {
		return nil, err
	}
	if p.errs, err = register(reg, p.errs); err != nil {
		return nil, err
	}
	if p.latency, err = register(reg, p.latency); err != nil {
		return nil, err
	}
	if p.results, err = register(reg, p.results); err != nil {
		return nil, err
	}
	if p.rebuilds, err = register(reg, p.rebuilds); err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (p *PrometheusCollector) observe(op string, duration time.Duration, err error) {
	p.ops.WithLabelValues(op).Inc()
	p.latency.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		p.errs.WithLabelValues(op).Inc()
	}
}

// RecordSave implements MetricsCollector.
func (p *PrometheusCollector) RecordSave(duration time.Duration, err error) {
	p.observe("save", duration, err)
}

// RecordDelete implements MetricsCollector.
func (p *PrometheusCollector) RecordDelete(duration time.Duration, err error) {
	p.observe("delete", duration, err)
}

// RecordQuery implements MetricsCollector.
func (p *PrometheusCollector) RecordQuery(op string, results int, duration time.Duration, err error) {
	p.observe(op, duration, err)
	if err == nil {
		p.results.Observe(float64(results))
	}
}

// RecordClear implements MetricsCollector.
func (p *PrometheusCollector) RecordClear(duration time.Duration, err error) {
	p.observe("clear", duration, err)
}

// RecordRebuild implements MetricsCollector.
func (p *PrometheusCollector) RecordRebuild(duration time.Duration, err error) {
	p.observe("rebuild", duration, err)
	if err == nil {
		p.rebuilds.Inc()
	}
}
