package db

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exports connection pool statistics as Prometheus gauges.
type PoolCollector struct {
	stats StatsFunc

	total    *prometheus.Desc
	idle     *prometheus.Desc
	acquired *prometheus.Desc
	max      *prometheus.Desc
	acquires *prometheus.Desc
}

func NewPoolCollector(namespace string, stats StatsFunc) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, nil)
	}
	return &PoolCollector{
		stats:    stats,
		total:    desc("total_conns", "Connections currently open."),
		idle:     desc("idle_conns", "Idle connections."),
		acquired: desc("acquired_conns", "Connections checked out of the pool."),
		max:      desc("max_conns", "Configured pool size."),
		acquires: desc("acquire_total", "Successful connection acquisitions."),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.idle
	ch <- c.acquired
	ch <- c.max
	ch <- c.acquires
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount))
}
