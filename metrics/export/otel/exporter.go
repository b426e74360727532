package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authtrail"
	"github.com/MrEthical07/authtrail/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Instrument names. Counters carry an "outcome" attribute; latency gauges carry
// "operation" and, for buckets, "le".
const (
	IssueName            = "authtrail.tokens.issued"
	AuthenticateName     = "authtrail.tokens.authenticated"
	RevokeName           = "authtrail.tokens.revoked"
	LoginName            = "authtrail.logins"
	AuthorizeDeniedName  = "authtrail.authorize.denied"
	StoreUnavailableName = "authtrail.revocation.store_unavailable"
	AuditAppendName      = "authtrail.audit.appends"
	AuditActionName      = "authtrail.audit.actions"
	AuditVerifyFailName  = "authtrail.audit.verify_failures"
	AuditDroppedName     = "authtrail.audit.dropped"
	AuditPendingName     = "authtrail.audit.pending"
	AuditChainLengthName = "authtrail.audit.chain_length"
	LatencyBucketName    = "authtrail.latency.bucket"
	LatencyCountName     = "authtrail.latency.count"
)

const (
	outcomeKey    = attribute.Key("outcome")
	operationKey  = attribute.Key("operation")
	actionKey     = attribute.Key("action")
	upperBoundKey = attribute.Key("le")
)

// Source is what the exporter reads on every collection. *authtrail.Manager
// satisfies it.
type Source interface {
	MetricsSnapshot() authtrail.MetricsSnapshot
	AuditDropped() uint64
	AuditPending() int
	AuditChainLength() int
	AuditActionCounts() map[string]uint64
}

type outcome struct {
	id   authtrail.MetricID
	attr metric.ObserveOption
}

type outcomeCounter struct {
	name     string
	help     string
	outcomes []outcome
}

func withOutcome(id authtrail.MetricID, value string) outcome {
	return outcome{id: id, attr: metric.WithAttributes(outcomeKey.String(value))}
}

// counterGroups folds the manager's flat counters into one instrument per
// operation, split by outcome.
var counterGroups = []outcomeCounter{
	{IssueName, "Token issuance attempts.", []outcome{
		withOutcome(authtrail.MetricIssueSuccess, "success"),
		withOutcome(authtrail.MetricIssueFailure, "failure"),
	}},
	{AuthenticateName, "Bearer tokens checked.", []outcome{
		withOutcome(authtrail.MetricAuthenticateSuccess, "success"),
		withOutcome(authtrail.MetricAuthenticateInvalid, "invalid"),
		withOutcome(authtrail.MetricAuthenticateExpired, "expired"),
		withOutcome(authtrail.MetricAuthenticateRevoked, "revoked"),
		withOutcome(authtrail.MetricAuthenticatePrincipalRejected, "principal_rejected"),
		withOutcome(authtrail.MetricFailOpenAccepted, "fail_open"),
	}},
	{RevokeName, "Revocation writes.", []outcome{
		withOutcome(authtrail.MetricRevokeSuccess, "success"),
		withOutcome(authtrail.MetricRevokeFailure, "failure"),
		withOutcome(authtrail.MetricRevokeRetry, "retry"),
	}},
	{LoginName, "Password logins.", []outcome{
		withOutcome(authtrail.MetricLoginSuccess, "success"),
		withOutcome(authtrail.MetricLoginFailure, "failure"),
	}},
	{AuditAppendName, "Audit chain appends.", []outcome{
		withOutcome(authtrail.MetricAuditAppend, "appended"),
		withOutcome(authtrail.MetricAuditAppendFailure, "rejected"),
	}},
}

var singleCounters = []struct {
	name string
	help string
	id   authtrail.MetricID
}{
	{AuthorizeDeniedName, "Role checks that denied access.", authtrail.MetricAuthorizeDenied},
	{StoreUnavailableName, "Revocation store calls that failed.", authtrail.MetricStoreUnavailable},
	{AuditVerifyFailName, "Audit verifications that found a break.", authtrail.MetricAuditVerifyFailure},
}

var latencyOperations = map[authtrail.MetricID]string{
	authtrail.MetricAuthenticateLatency:     "authenticate",
	authtrail.MetricRevocationLookupLatency: "revocation_lookup",
}

type boundCounter struct {
	instrument metric.Int64ObservableCounter
	outcomes   []outcome
}

// Exporter publishes manager metrics through OTel observable instruments. One
// callback takes a snapshot per collection cycle.
type Exporter struct {
	source       Source
	registration metric.Registration

	counters      []boundCounter
	latencyBucket metric.Int64ObservableGauge
	latencyCount  metric.Int64ObservableGauge
	auditActions  metric.Int64ObservableCounter
	auditDropped  metric.Int64ObservableCounter
	auditPending  metric.Int64ObservableGauge
	chainLength   metric.Int64ObservableGauge
}

// NewExporter registers instruments for manager on meter.
func NewExporter(meter metric.Meter, manager *authtrail.Manager) (*Exporter, error) {
	if manager == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, manager)
}

func NewExporterFromSource(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	var observables []metric.Observable

	counter := func(name, help string) (metric.Int64ObservableCounter, error) {
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", name, err)
		}
		observables = append(observables, ins)
		return ins, nil
	}
	gauge := func(name, help string) (metric.Int64ObservableGauge, error) {
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s: %w", name, err)
		}
		observables = append(observables, ins)
		return ins, nil
	}

	for _, g := range counterGroups {
		ins, err := counter(g.name, g.help)
		if err != nil {
			return nil, err
		}
		e.counters = append(e.counters, boundCounter{instrument: ins, outcomes: g.outcomes})
	}
	for _, c := range singleCounters {
		ins, err := counter(c.name, c.help)
		if err != nil {
			return nil, err
		}
		e.counters = append(e.counters, boundCounter{instrument: ins, outcomes: []outcome{{id: c.id}}})
	}

	var err error
	if e.auditActions, err = counter(AuditActionName, "Audit entries appended, by action."); err != nil {
		return nil, err
	}
	if e.auditDropped, err = counter(AuditDroppedName, "Audit entries that never reached a sink."); err != nil {
		return nil, err
	}
	if e.auditPending, err = gauge(AuditPendingName, "Audit entries waiting for the sinks."); err != nil {
		return nil, err
	}
	if e.chainLength, err = gauge(AuditChainLengthName, "Entries in the audit chain."); err != nil {
		return nil, err
	}
	if e.latencyBucket, err = gauge(LatencyBucketName, "Cumulative latency samples at or below le seconds."); err != nil {
		return nil, err
	}
	if e.latencyCount, err = gauge(LatencyCountName, "Latency samples recorded."); err != nil {
		return nil, err
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		for _, oc := range c.outcomes {
			v := int64(snapshot.Counters[oc.id])
			if oc.attr == nil {
				o.ObserveInt64(c.instrument, v)
				continue
			}
			o.ObserveInt64(c.instrument, v, oc.attr)
		}
	}

	for id, op := range latencyOperations {
		raw, ok := snapshot.Histograms[id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, count := range cumulative {
			le := "+Inf"
			if i < len(internaldefs.HistogramUpperBounds) {
				le = fmt.Sprint(internaldefs.HistogramUpperBounds[i])
			}
			o.ObserveInt64(e.latencyBucket, int64(count),
				metric.WithAttributes(operationKey.String(op), upperBoundKey.String(le)))
		}
		o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]),
			metric.WithAttributes(operationKey.String(op)))
	}

	for action, n := range e.source.AuditActionCounts() {
		o.ObserveInt64(e.auditActions, int64(n), metric.WithAttributes(actionKey.String(action)))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	o.ObserveInt64(e.auditPending, int64(e.source.AuditPending()))
	o.ObserveInt64(e.chainLength, int64(e.source.AuditChainLength()))
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
