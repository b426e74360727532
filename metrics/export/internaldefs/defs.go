package internaldefs

import (
	"github.com/MrEthical07/authtrail"
)

// CounterDef binds a manager counter to its exported name.
type CounterDef struct {
	ID   authtrail.MetricID
	Name string
	Help string
}

// HistogramDef binds a manager latency histogram to its exported name.
type HistogramDef struct {
	ID   authtrail.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authtrail.MetricIssueSuccess, Name: "authtrail_issue_success_total", Help: "Access tokens issued."},
	{ID: authtrail.MetricIssueFailure, Name: "authtrail_issue_failure_total", Help: "Rejected issuance requests."},
	{ID: authtrail.MetricAuthenticateSuccess, Name: "authtrail_authenticate_success_total", Help: "Tokens resolved to a principal."},
	{ID: authtrail.MetricAuthenticateInvalid, Name: "authtrail_authenticate_invalid_total", Help: "Malformed, forged or incomplete tokens."},
	{ID: authtrail.MetricAuthenticateExpired, Name: "authtrail_authenticate_expired_total", Help: "Correctly signed tokens past expiry."},
	{ID: authtrail.MetricAuthenticateRevoked, Name: "authtrail_authenticate_revoked_total", Help: "Revoked tokens presented."},
	{ID: authtrail.MetricAuthenticatePrincipalRejected, Name: "authtrail_authenticate_principal_rejected_total", Help: "Tokens for unknown or disabled principals."},
	{ID: authtrail.MetricAuthorizeDenied, Name: "authtrail_authorize_denied_total", Help: "Role checks that denied access."},
	{ID: authtrail.MetricRevokeSuccess, Name: "authtrail_revoke_success_total", Help: "Confirmed revocations."},
	{ID: authtrail.MetricRevokeFailure, Name: "authtrail_revoke_failure_total", Help: "Revocations refused or not confirmed."},
	{ID: authtrail.MetricRevokeRetry, Name: "authtrail_revoke_retry_total", Help: "Revocation writes retried."},
	{ID: authtrail.MetricStoreUnavailable, Name: "authtrail_revocation_store_unavailable_total", Help: "Revocation store calls that failed."},
	{ID: authtrail.MetricFailOpenAccepted, Name: "authtrail_fail_open_accepted_total", Help: "Tokens accepted without a revocation check under fail-open."},
	{ID: authtrail.MetricLoginSuccess, Name: "authtrail_login_success_total", Help: "Successful logins."},
	{ID: authtrail.MetricLoginFailure, Name: "authtrail_login_failure_total", Help: "Failed logins."},
	{ID: authtrail.MetricAuditAppend, Name: "authtrail_audit_append_total", Help: "Entries appended to the audit chain."},
	{ID: authtrail.MetricAuditAppendFailure, Name: "authtrail_audit_append_failure_total", Help: "Audit appends rejected by the chain."},
	{ID: authtrail.MetricAuditVerifyFailure, Name: "authtrail_audit_verify_failure_total", Help: "Audit chain verifications that found a break."},
}

var HistogramDefs = []HistogramDef{
	{ID: authtrail.MetricAuthenticateLatency, Name: "authtrail_authenticate_latency_seconds", Help: "Authenticate latency."},
	{ID: authtrail.MetricRevocationLookupLatency, Name: "authtrail_revocation_lookup_latency_seconds", Help: "Revocation store lookup latency."},
}

// AuditDroppedName is the counter for entries the audit dispatcher discarded.
const AuditDroppedName = "authtrail_audit_dropped_total"

// HistogramUpperBounds are the finite bucket bounds in seconds; the eighth bucket
// is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to the eight snapshot buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
