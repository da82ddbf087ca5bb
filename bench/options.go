package bench

import (
	"github.com/hupe1980/colbench"
)

type options struct {
	logger  *colbench.Logger
	metrics colbench.MetricsCollector
}

// Option configures a Runner.
type Option func(*options)

// WithLogger sets the run logger.
func WithLogger(l *colbench.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsCollector sets the collector that receives pipeline, mitigation
// and spill measurements.
func WithMetricsCollector(m colbench.MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
