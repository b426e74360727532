package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authtrail"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authtrail.MetricsSnapshot
	dropped  uint64
	pending  int
	chainLen int
	actions  map[string]uint64
}

func (f *fakeSource) MetricsSnapshot() authtrail.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authtrail.MetricsSnapshot{
		Counters:   make(map[authtrail.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authtrail.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) AuditPending() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pending
}

func (f *fakeSource) AuditChainLength() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.chainLen
}

func (f *fakeSource) AuditActionCounts() map[string]uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]uint64, len(f.actions))
	for k, v := range f.actions {
		out[k] = v
	}
	return out
}

func newReaderMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return rm
}

func hasAttrs(set attribute.Set, kvs []attribute.KeyValue) bool {
	if set.Len() != len(kvs) {
		return false
	}
	for _, kv := range kvs {
		v, ok := set.Value(kv.Key)
		if !ok || v != kv.Value {
			return false
		}
	}
	return true
}

// point returns the value recorded on name with exactly the given attributes.
func point(rm metricdata.ResourceMetrics, name string, kvs ...attribute.KeyValue) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var dps []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				dps = data.DataPoints
			case metricdata.Gauge[int64]:
				dps = data.DataPoints
			}
			for _, dp := range dps {
				if hasAttrs(dp.Attributes, kvs) {
					return dp.Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterSplitsOutcomes(t *testing.T) {
	reader, provider := newReaderMeter()
	meter := provider.Meter("authtrail-test")

	src := &fakeSource{
		snapshot: authtrail.MetricsSnapshot{
			Counters: map[authtrail.MetricID]uint64{
				authtrail.MetricRevokeSuccess:       3,
				authtrail.MetricRevokeRetry:         2,
				authtrail.MetricAuthenticateRevoked: 5,
				authtrail.MetricFailOpenAccepted:    1,
				authtrail.MetricStoreUnavailable:    4,
			},
		},
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	rm := collect(t, reader)
	cases := []struct {
		name    string
		outcome string
		want    int64
	}{
		{RevokeName, "success", 3},
		{RevokeName, "retry", 2},
		{RevokeName, "failure", 0},
		{AuthenticateName, "revoked", 5},
		{AuthenticateName, "fail_open", 1},
	}
	for _, tc := range cases {
		v, ok := point(rm, tc.name, outcomeKey.String(tc.outcome))
		if !ok || v != tc.want {
			t.Fatalf("%s{outcome=%s}: got %d (found=%v), want %d", tc.name, tc.outcome, v, ok, tc.want)
		}
	}
	if v, ok := point(rm, StoreUnavailableName); !ok || v != 4 {
		t.Fatalf("store unavailable: got %d (found=%v)", v, ok)
	}
}

func TestExporterReportsAuditState(t *testing.T) {
	reader, provider := newReaderMeter()
	meter := provider.Meter("authtrail-test")

	src := &fakeSource{
		snapshot: authtrail.MetricsSnapshot{Counters: map[authtrail.MetricID]uint64{}},
		dropped:  1,
		pending:  7,
		chainLen: 42,
		actions: map[string]uint64{
			authtrail.ActionTokenIssue:  30,
			authtrail.ActionTokenRevoke: 12,
		},
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	rm := collect(t, reader)
	if v, ok := point(rm, AuditActionName, actionKey.String(authtrail.ActionTokenRevoke)); !ok || v != 12 {
		t.Fatalf("revoke action count: got %d (found=%v)", v, ok)
	}
	if v, ok := point(rm, AuditActionName, actionKey.String(authtrail.ActionTokenIssue)); !ok || v != 30 {
		t.Fatalf("issue action count: got %d (found=%v)", v, ok)
	}
	if v, ok := point(rm, AuditDroppedName); !ok || v != 1 {
		t.Fatalf("audit dropped: got %d (found=%v)", v, ok)
	}
	if v, ok := point(rm, AuditPendingName); !ok || v != 7 {
		t.Fatalf("audit pending: got %d (found=%v)", v, ok)
	}
	if v, ok := point(rm, AuditChainLengthName); !ok || v != 42 {
		t.Fatalf("chain length: got %d (found=%v)", v, ok)
	}
}

func TestExporterLatencyBuckets(t *testing.T) {
	reader, provider := newReaderMeter()
	meter := provider.Meter("authtrail-test")

	src := &fakeSource{
		snapshot: authtrail.MetricsSnapshot{
			Counters: map[authtrail.MetricID]uint64{},
			Histograms: map[authtrail.MetricID][]uint64{
				authtrail.MetricAuthenticateLatency: {2, 1, 0, 0, 0, 0, 0, 3},
			},
		},
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	rm := collect(t, reader)
	op := operationKey.String("authenticate")
	if v, ok := point(rm, LatencyBucketName, op, upperBoundKey.String("0.005")); !ok || v != 2 {
		t.Fatalf("le=0.005: got %d (found=%v)", v, ok)
	}
	if v, ok := point(rm, LatencyBucketName, op, upperBoundKey.String("0.01")); !ok || v != 3 {
		t.Fatalf("le=0.01: got %d (found=%v)", v, ok)
	}
	if v, ok := point(rm, LatencyBucketName, op, upperBoundKey.String("+Inf")); !ok || v != 6 {
		t.Fatalf("le=+Inf: got %d (found=%v)", v, ok)
	}
	if v, ok := point(rm, LatencyCountName, op); !ok || v != 6 {
		t.Fatalf("count: got %d (found=%v)", v, ok)
	}
	if _, ok := point(rm, LatencyCountName, operationKey.String("revocation_lookup")); ok {
		t.Fatal("no samples were recorded for revocation_lookup")
	}
}

func TestExporterRejectsNil(t *testing.T) {
	_, provider := newReaderMeter()
	meter := provider.Meter("authtrail-test")

	if _, err := NewExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil manager, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReaderMeter()
	meter := provider.Meter("authtrail-test")

	src := &fakeSource{
		snapshot: authtrail.MetricsSnapshot{
			Counters: map[authtrail.MetricID]uint64{
				authtrail.MetricAuthenticateSuccess: 1,
			},
			Histograms: map[authtrail.MetricID][]uint64{
				authtrail.MetricRevocationLookupLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
		actions: map[string]uint64{},
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authtrail.MetricAuthenticateSuccess] = v
			src.actions[authtrail.ActionLogin] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
