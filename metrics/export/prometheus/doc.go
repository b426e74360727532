// Package prometheus exposes an authtrail.Manager's counters and latency histograms
// as a prometheus.Collector.
//
// Register the [Collector] with your own registry, or mount [Handler] which uses a
// private one. Counter names are authtrail_*_total.
package prometheus
