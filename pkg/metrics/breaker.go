package metrics

import "github.com/prometheus/client_golang/prometheus"

// BreakerStats is read by BreakerCollector on every scrape
type BreakerStats interface {
	Limit() int64
	InUse() int64
	Tripped() int64
}

// BreakerCollector reports the search memory breaker
type BreakerCollector struct {
	breaker BreakerStats

	limit   *prometheus.Desc
	inUse   *prometheus.Desc
	tripped *prometheus.Desc
}

func NewBreakerCollector(b BreakerStats) *BreakerCollector {
	return &BreakerCollector{
		breaker: b,
		limit: prometheus.NewDesc(
			namespace+"_breaker_limit_bytes",
			"Memory a search may reserve, 0 when unlimited",
			nil, nil,
		),
		inUse: prometheus.NewDesc(
			namespace+"_breaker_in_use_bytes",
			"Memory currently reserved by searches",
			nil, nil,
		),
		tripped: prometheus.NewDesc(
			namespace+"_breaker_tripped_total",
			"Reservations rejected by the breaker",
			nil, nil,
		),
	}
}

func (c *BreakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.limit
	ch <- c.inUse
	ch <- c.tripped
}

func (c *BreakerCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(c.breaker.Limit()))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(c.breaker.InUse()))
	ch <- prometheus.MustNewConstMetric(c.tripped, prometheus.CounterValue, float64(c.breaker.Tripped()))
}
