package validationsupport

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes Metrics to a Prometheus registry.
type Collector struct {
	metrics *Metrics

	operationTotal   *prometheus.Desc
	operationSeconds *prometheus.Desc
	cacheTotal       *prometheus.Desc
}

// NewPrometheusCollector wraps m as a prometheus.Collector.
func NewPrometheusCollector(m *Metrics) *Collector {
	return &Collector{
		metrics: m,
		operationTotal: prometheus.NewDesc(
			"validationsupport_operation_total",
			"Chain dispatches by operation and outcome.",
			[]string{"operation", "outcome"}, nil,
		),
		operationSeconds: prometheus.NewDesc(
			"validationsupport_operation_seconds_total",
			"Cumulative time spent in chain dispatch by operation.",
			[]string{"operation"}, nil,
		),
		cacheTotal: prometheus.NewDesc(
			"validationsupport_cache_total",
			"Cache lookups by result.",
			[]string{"result"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operationTotal
	ch <- c.operationSeconds
	ch <- c.cacheTotal
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.metrics.AllOperationStats() {
		ch <- prometheus.MustNewConstMetric(c.operationTotal, prometheus.CounterValue, float64(s.Answered), s.Name, string(OutcomeAnswered))
		ch <- prometheus.MustNewConstMetric(c.operationTotal, prometheus.CounterValue, float64(s.NoOpinion), s.Name, string(OutcomeNoOpinion))
		ch <- prometheus.MustNewConstMetric(c.operationTotal, prometheus.CounterValue, float64(s.Errors), s.Name, string(OutcomeError))
		ch <- prometheus.MustNewConstMetric(c.operationSeconds, prometheus.CounterValue, s.TotalTime.Seconds(), s.Name)
	}
	ch <- prometheus.MustNewConstMetric(c.cacheTotal, prometheus.CounterValue, float64(c.metrics.CacheHits()), "hit")
	ch <- prometheus.MustNewConstMetric(c.cacheTotal, prometheus.CounterValue, float64(c.metrics.CacheMisses()), "miss")
}

var _ prometheus.Collector = (*Collector)(nil)
