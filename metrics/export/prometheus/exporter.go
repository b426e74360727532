package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authtrail"
	"github.com/MrEthical07/authtrail/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() authtrail.MetricsSnapshot
	AuditDropped() uint64
}

// Collector is a prometheus.Collector over a manager's in-process metrics. Values
// are read from a fresh snapshot on every scrape.
type Collector struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
}

type counterDesc struct {
	id   authtrail.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   authtrail.MetricID
	desc *prometheus.Desc
}

// NewCollector returns a collector for manager.
func NewCollector(manager *authtrail.Manager) *Collector {
	return NewCollectorFromSource(manager)
}

// NewCollectorFromSource returns a collector over any snapshot source.
func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:       source,
		counters:     make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms:   make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, "Audit entries dropped by the dispatcher.", nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.histograms {
		ch <- d.desc
	}
	ch <- c.auditDropped
}

// Collect implements prometheus.Collector. Histograms are only emitted when the
// manager records latency.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(snapshot.Counters[d.id]))
	}

	for _, d := range c.histograms {
		raw, ok := snapshot.Histograms[d.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for i, upper := range internaldefs.HistogramUpperBounds {
			buckets[upper] = cumulative[i]
		}
		// The snapshot carries no sum.
		ch <- prometheus.MustNewConstHistogram(d.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler serves c from a private registry, leaving the global registry alone.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
