package authtrail

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/MrEthical07/authtrail/audit"
	"github.com/MrEthical07/authtrail/revocation"
)

// Actions appended to the audit chain by the manager.
const (
	ActionTokenIssue         = "TOKEN_ISSUE"
	ActionTokenRevoke        = "TOKEN_REVOKE"
	ActionLogin              = "LOGIN"
	ActionLogout             = "LOGOUT"
	ActionRevokedTokenUsed   = "REVOKED_TOKEN_PRESENTED"
	ActionRevocationFailOpen = "REVOCATION_FAIL_OPEN"
)

// AuditActions lists every action the manager appends, in a stable order.
var AuditActions = [...]string{
	ActionTokenIssue,
	ActionTokenRevoke,
	ActionLogin,
	ActionLogout,
	ActionRevokedTokenUsed,
	ActionRevocationFailOpen,
}

// auditActionCounts counts successful appends per action, indexed like AuditActions.
type auditActionCounts [len(AuditActions)]atomic.Uint64

func (c *auditActionCounts) inc(action string) {
	for i, a := range AuditActions {
		if a == action {
			c[i].Add(1)
			return
		}
	}
}

const (
	resourceToken     = "token"
	resourcePrincipal = "principal"
)

// AuditErrorCode is the stable failure reason stored in audit entry details.
type AuditErrorCode string

const (
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpired            AuditErrorCode = "expired"
	auditErrRevoked            AuditErrorCode = "revoked"
	auditErrMalformedClaims    AuditErrorCode = "malformed_claims"
	auditErrUnknownPrincipal   AuditErrorCode = "unknown_principal"
	auditErrDisabledPrincipal  AuditErrorCode = "disabled_principal"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrStoreUnavailable   AuditErrorCode = "store_unavailable"
	auditErrNotConfirmed       AuditErrorCode = "not_confirmed"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// appendAudit records one action. A failed append is logged and counted but never
// fails the operation that triggered it; the chain rejects only caller bugs.
func (m *Manager) appendAudit(
	ctx context.Context,
	action string,
	resourceType string,
	resourceID string,
	userID string,
	err error,
	detailsBuilder func() map[string]any,
) {
	if m == nil || m.chain == nil {
		return
	}

	details := requestDetails(ctx)
	if detailsBuilder != nil {
		for k, v := range detailsBuilder() {
			if details == nil {
				details = make(map[string]any)
			}
			details[k] = v
		}
	}

	status := audit.StatusSuccess
	if code := auditErrorCode(err); code != "" {
		status = audit.StatusFailure
		if details == nil {
			details = make(map[string]any, 1)
		}
		details["error"] = string(code)
	}

	_, appendErr := m.chain.Append(ctx, audit.Input{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		UserID:       userID,
		Status:       status,
		Details:      details,
	})
	if appendErr != nil {
		m.metricInc(MetricAuditAppendFailure)
		m.logger.Error("audit append failed",
			"action", action,
			"resource_type", resourceType,
			"error", appendErr,
		)
		return
	}
	m.metricInc(MetricAuditAppend)
	m.auditActions.inc(action)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpired
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenRevoked):
		return auditErrRevoked
	case errors.Is(err, ErrMalformedClaims):
		return auditErrMalformedClaims
	case errors.Is(err, ErrUnknownPrincipal):
		return auditErrUnknownPrincipal
	case errors.Is(err, ErrDisabledPrincipal):
		return auditErrDisabledPrincipal
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRevocationNotConfirmed):
		return auditErrNotConfirmed
	case errors.Is(err, ErrRevocationUnavailable),
		errors.Is(err, revocation.ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	default:
		return auditErrInternal
	}
}
