// Package metrics counts what the entrypoint forwarded and writes the result
// in the node exporter textfile format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "estela_entrypoint"

// Collector is safe for concurrent use. A nil *Collector discards everything.
type Collector struct {
	records  *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	exitCode prometheus.Gauge

	registry *prometheus.Registry
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of log records handed to the broker",
		},
		[]string{"stream"},
	)

	c.dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Total number of log records which could not be delivered",
		},
		[]string{"reason"},
	)

	c.exitCode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "child_exit_code",
			Help:      "Exit code reported by the entrypoint",
		},
	)

	c.registry.MustRegister(c.records, c.dropped, c.exitCode)
	return c
}

func (c *Collector) RecordSent(stream string) {
	if c == nil {
		return
	}
	c.records.WithLabelValues(stream).Inc()
}

func (c *Collector) RecordDropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

func (c *Collector) ExitCode(code int) {
	if c == nil {
		return
	}
	c.exitCode.Set(float64(code))
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile atomically writes all metrics to path.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}
