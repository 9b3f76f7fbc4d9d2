package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FlockStats is the per-flock view exported to Prometheus.
type FlockStats struct {
	Name     string
	Business string
	Monkeys  int
	Success  int64
	Failure  int64
	Phases   map[string]LatencyStats
}

// Collector exports flock statistics on every scrape.
//
// It pulls from a source function instead of keeping its own counters, so
// the exported values always match the flock summaries.
type Collector struct {
	source func() []FlockStats

	monkeys      *prometheus.Desc
	success      *prometheus.Desc
	failure      *prometheus.Desc
	phaseLatency *prometheus.Desc
	phaseCount   *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source func() []FlockStats) *Collector {
	return &Collector{
		source: source,
		monkeys: prometheus.NewDesc(
			"mobu_flock_monkeys",
			"Number of monkeys in the flock",
			[]string{"flock", "business"}, nil,
		),
		success: prometheus.NewDesc(
			"mobu_flock_success_total",
			"Completed business iterations across the flock",
			[]string{"flock", "business"}, nil,
		),
		failure: prometheus.NewDesc(
			"mobu_flock_failure_total",
			"Failed business loops across the flock",
			[]string{"flock", "business"}, nil,
		),
		phaseLatency: prometheus.NewDesc(
			"mobu_phase_latency_seconds",
			"Phase latency quantiles per flock and event",
			[]string{"flock", "event", "quantile"}, nil,
		),
		phaseCount: prometheus.NewDesc(
			"mobu_phase_events_total",
			"Finished phases per flock and event",
			[]string{"flock", "event", "outcome"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.monkeys
	ch <- c.success
	ch <- c.failure
	ch <- c.phaseLatency
	ch <- c.phaseCount
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, fs := range c.source() {
		ch <- prometheus.MustNewConstMetric(c.monkeys, prometheus.GaugeValue, float64(fs.Monkeys), fs.Name, fs.Business)
		ch <- prometheus.MustNewConstMetric(c.success, prometheus.CounterValue, float64(fs.Success), fs.Name, fs.Business)
		ch <- prometheus.MustNewConstMetric(c.failure, prometheus.CounterValue, float64(fs.Failure), fs.Name, fs.Business)

		for event, stats := range fs.Phases {
			quantiles := map[string]float64{
				"0.5":  stats.P50.Seconds(),
				"0.9":  stats.P90.Seconds(),
				"0.95": stats.P95.Seconds(),
				"0.99": stats.P99.Seconds(),
			}
			for q, v := range quantiles {
				ch <- prometheus.MustNewConstMetric(c.phaseLatency, prometheus.GaugeValue, v, fs.Name, event, q)
			}
			ch <- prometheus.MustNewConstMetric(c.phaseCount, prometheus.CounterValue, float64(stats.Count-stats.Failures), fs.Name, event, "success")
			ch <- prometheus.MustNewConstMetric(c.phaseCount, prometheus.CounterValue, float64(stats.Failures), fs.Name, event, "failure")
		}
	}
}

var _ prometheus.Collector = (*Collector)(nil)
