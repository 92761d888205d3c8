// Package metrics exports pool statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anggasct/planfsm/pkg/pool"
)

// StatsSource is anything reporting pool statistics, usually a *pool.Pool
type StatsSource interface {
	Stats() pool.Stats
}

// PoolCollector is a prometheus.Collector reading pool statistics at scrape time
type PoolCollector struct {
	source   StatsSource
	size     *prometheus.Desc
	grows    *prometheus.Desc
	shrinks  *prometheus.Desc
	created  *prometheus.Desc
	released *prometheus.Desc
	failures *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector creates a collector for source, labelled with the pool name
func NewPoolCollector(namespace, poolName string, source StatsSource) *PoolCollector {
	labels := prometheus.Labels{"pool": poolName}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, nil, labels)
	}
	return &PoolCollector{
		source:   source,
		size:     desc("free_instances", "Instances currently held in the free list"),
		grows:    desc("grows_total", "Times the pool grew because it was empty"),
		shrinks:  desc("shrinks_total", "Times the pool shrank because it was over its max size"),
		created:  desc("created_total", "Instances created by the pool factory"),
		released: desc("released_total", "Instances dropped by the pool"),
		failures: desc("instantiation_failures_total", "Failed growth attempts"),
	}
}

// Describe implements prometheus.Collector
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.grows
	ch <- c.shrinks
	ch <- c.created
	ch <- c.released
	ch <- c.failures
}

// Collect implements prometheus.Collector
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.grows, prometheus.CounterValue, float64(s.Grows))
	ch <- prometheus.MustNewConstMetric(c.shrinks, prometheus.CounterValue, float64(s.Shrinks))
	ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(s.Created))
	ch <- prometheus.MustNewConstMetric(c.released, prometheus.CounterValue, float64(s.Released))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Failures))
}
