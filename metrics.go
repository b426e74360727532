package authtrail

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	MetricIssueSuccess MetricID = iota
	MetricIssueFailure
	MetricAuthenticateSuccess
	MetricAuthenticateInvalid
	MetricAuthenticateExpired
	MetricAuthenticateRevoked
	MetricAuthenticatePrincipalRejected
	MetricAuthorizeDenied
	MetricRevokeSuccess
	MetricRevokeFailure
	MetricRevokeRetry
	MetricStoreUnavailable
	MetricFailOpenAccepted
	MetricLoginSuccess
	MetricLoginFailure
	MetricAuditAppend
	MetricAuditAppendFailure
	MetricAuditVerifyFailure
	MetricAuthenticateLatency
	MetricRevocationLookupLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps hot counters on separate cache lines.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free set of counters and fixed-bucket latency histograms.
// A nil or disabled *Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all metrics. Histogram buckets are
// non-cumulative and bounded at 5, 10, 25, 50, 100, 250, 500ms and +Inf.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !isLatencyMetric(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isLatencyMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range latencyMetrics {
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

var latencyMetrics = []MetricID{MetricAuthenticateLatency, MetricRevocationLookupLatency}

func isLatencyMetric(id MetricID) bool {
	return id == MetricAuthenticateLatency || id == MetricRevocationLookupLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
