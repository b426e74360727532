// Package otel publishes an authtrail.Manager's metrics as OpenTelemetry observable
// instruments. Each operation gets one counter split by an "outcome" attribute,
// audit entries are counted per "action", and the two latency histograms are
// exposed as cumulative bucket gauges keyed by "operation" and "le". The caller
// owns the MeterProvider.
package otel
