package authtrail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authtrail/audit"
	"github.com/MrEthical07/authtrail/jwt"
	"github.com/MrEthical07/authtrail/password"
	"github.com/MrEthical07/authtrail/revocation"
)

// Manager is the single authority for whether a bearer token is currently
// authorized. A token is valid while unexpired and unrevoked; once expired or
// revoked it never becomes valid again.
//
// Manager holds no token state of its own. Revocations live in the injected
// [revocation.Store]; security-relevant actions are appended to an [audit.Chain].
type Manager struct {
	config     Config
	codec      *jwt.Codec
	store      revocation.Store
	principals PrincipalProvider
	hasher     *password.Hasher
	chain      *audit.Chain
	dispatcher *audit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
	closers    []io.Closer

	auditActions auditActionCounts

	dummyOnce sync.Once
	dummyHash string
}

// Close flushes the audit dispatcher and releases owned connections and files.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.dispatcher.Close()

	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

// AuditChain returns the chain the manager appends to.
func (m *Manager) AuditChain() *audit.Chain {
	if m == nil {
		return nil
	}
	return m.chain
}

// RevocationStore returns the configured revocation backend.
func (m *Manager) RevocationStore() revocation.Store {
	if m == nil {
		return nil
	}
	return m.store
}

// AuditDropped reports entries the dispatcher could not hand to its sinks.
func (m *Manager) AuditDropped() uint64 {
	if m == nil {
		return 0
	}
	return m.dispatcher.Dropped()
}

// AuditPending reports entries waiting for the audit sinks.
func (m *Manager) AuditPending() int {
	if m == nil {
		return 0
	}
	return m.dispatcher.Pending()
}

// AuditChainLength returns the number of entries in the audit chain.
func (m *Manager) AuditChainLength() int {
	if m == nil || m.chain == nil {
		return 0
	}
	return m.chain.Len()
}

// AuditActionCounts returns how many entries this manager appended per action.
// Every action in AuditActions is present.
func (m *Manager) AuditActionCounts() map[string]uint64 {
	out := make(map[string]uint64, len(AuditActions))
	for i, action := range AuditActions {
		if m != nil {
			out[action] = m.auditActions[i].Load()
		} else {
			out[action] = 0
		}
	}
	return out
}

// VerifyAudit verifies the audit chain and counts failures.
func (m *Manager) VerifyAudit() error {
	if m == nil || m.chain == nil {
		return ErrManagerNotReady
	}
	if err := m.chain.Verify(); err != nil {
		m.metricInc(MetricAuditVerifyFailure)
		return err
	}
	return nil
}

func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return m.metrics.Snapshot()
}

func (m *Manager) metricInc(id MetricID) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.Inc(id)
}

// Ping checks that the revocation store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return ErrManagerNotReady
	}
	return m.store.Ping(ctx)
}

/*
====================================
ISSUANCE
====================================
*/

// Issue signs a token for subject and role. A non-positive lifetime uses
// Config.Token.AccessTTL.
func (m *Manager) Issue(ctx context.Context, subject, role string, lifetime time.Duration) (string, error) {
	issued, err := m.IssueToken(ctx, subject, role, lifetime)
	if err != nil {
		return "", err
	}
	return issued.Token, nil
}

// IssueToken is Issue returning the stamped claims alongside the token.
func (m *Manager) IssueToken(ctx context.Context, subject, role string, lifetime time.Duration) (*IssuedToken, error) {
	if m == nil || m.codec == nil {
		return nil, ErrManagerNotReady
	}
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(role) == "" {
		m.metricInc(MetricIssueFailure)
		return nil, fmt.Errorf("%w: subject and role are required", ErrValidation)
	}
	if lifetime <= 0 {
		lifetime = m.config.Token.AccessTTL
	}

	token, claims, err := m.codec.Encode(jwt.NewClaims(subject, role), lifetime)
	if err != nil {
		m.metricInc(MetricIssueFailure)
		if errors.Is(err, jwt.ErrInvalidClaims) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, err
	}

	issued := &IssuedToken{
		Token:     token,
		JTI:       claims.ID,
		Subject:   subject,
		Role:      role,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	m.metricInc(MetricIssueSuccess)
	m.logger.Info("token issued",
		"subject", subject,
		"role", role,
		"jti_prefix", jtiPrefix(issued.JTI),
		"expires_at", issued.ExpiresAt.UTC(),
	)
	m.appendAudit(ctx, ActionTokenIssue, resourceToken, issued.JTI, subject, nil, func() map[string]any {
		return map[string]any{
			"role":             role,
			"lifetime_seconds": int64(lifetime / time.Second),
		}
	})
	return issued, nil
}

/*
====================================
AUTHENTICATION
====================================
*/

// Authenticate resolves token to a principal. Checks run in order: signature and
// expiry, token id, revocation, claim completeness, then the principal record.
//
// When the revocation store cannot be reached the request is denied with
// ErrRevocationUnavailable, unless Config.Revocation.FailOpen is set.
func (m *Manager) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if m == nil || m.codec == nil {
		return nil, ErrManagerNotReady
	}
	if m.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { m.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()
	}

	claims, err := m.codec.Decode(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			m.metricInc(MetricAuthenticateExpired)
		} else {
			m.metricInc(MetricAuthenticateInvalid)
		}
		m.logger.Debug("token rejected", "reason", string(auditErrorCode(err)))
		return nil, err
	}

	jti := m.tokenID(token, claims)
	if jti == "" {
		m.metricInc(MetricAuthenticateInvalid)
		m.logger.Warn("token without jti rejected", "subject", claims.Subject)
		return nil, fmt.Errorf("%w: missing jti", ErrMalformedClaims)
	}

	if err := m.checkRevocation(ctx, jti, claims.Subject); err != nil {
		return nil, err
	}

	if claims.Subject == "" || claims.Role == "" {
		m.metricInc(MetricAuthenticateInvalid)
		return nil, fmt.Errorf("%w: subject and role are required", ErrMalformedClaims)
	}

	record, err := m.principals.PrincipalBySubject(ctx, claims.Subject)
	if err != nil {
		m.metricInc(MetricAuthenticatePrincipalRejected)
		if errors.Is(err, ErrUnknownPrincipal) {
			m.logger.Warn("token for unknown principal", "subject", claims.Subject, "jti_prefix", jtiPrefix(jti))
			return nil, ErrUnknownPrincipal
		}
		m.logger.Error("principal lookup failed", "subject", claims.Subject, "error", err)
		return nil, fmt.Errorf("principal lookup: %w", err)
	}
	if record.Disabled {
		m.metricInc(MetricAuthenticatePrincipalRejected)
		m.logger.Warn("token for disabled principal", "subject", claims.Subject, "jti_prefix", jtiPrefix(jti))
		return nil, ErrDisabledPrincipal
	}

	m.metricInc(MetricAuthenticateSuccess)
	p := &Principal{
		Subject: claims.Subject,
		Role:    claims.Role,
		JTI:     jti,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

func (m *Manager) checkRevocation(ctx context.Context, jti, subject string) error {
	start := time.Now()
	revoked, err := m.store.IsRevoked(ctx, jti)
	m.metrics.Observe(MetricRevocationLookupLatency, time.Since(start))

	if err != nil {
		m.metricInc(MetricStoreUnavailable)
		if !m.config.Revocation.FailOpen {
			m.logger.Error("revocation lookup failed; denying request",
				"jti_prefix", jtiPrefix(jti),
				"subject", subject,
				"store", m.store.Name(),
				"error", err,
			)
			return fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
		}

		m.metricInc(MetricFailOpenAccepted)
		m.logger.Warn("revocation lookup failed; accepting token under fail-open policy",
			"jti_prefix", jtiPrefix(jti),
			"subject", subject,
			"store", m.store.Name(),
			"error", err,
		)
		m.appendAudit(ctx, ActionRevocationFailOpen, resourceToken, jti, subject, err, nil)
		return nil
	}

	if revoked {
		m.metricInc(MetricAuthenticateRevoked)
		m.logger.Warn("revoked token presented", "jti_prefix", jtiPrefix(jti), "subject", subject)
		m.appendAudit(ctx, ActionRevokedTokenUsed, resourceToken, jti, subject, ErrTokenRevoked, nil)
		return ErrTokenRevoked
	}
	return nil
}

// tokenID returns the revocation key of a verified token. Tokens minted without a
// jti get hex(sha256(token)) when the legacy fallback is enabled, and "" otherwise.
func (m *Manager) tokenID(token string, claims *jwt.Claims) string {
	if jti := claims.JTI(); jti != "" {
		return jti
	}
	if !m.config.Token.LegacyJTIFallback {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

/*
====================================
AUTHORIZATION
====================================
*/

// Authorize returns principal when its role is one of allowedRoles. It performs no
// I/O. An empty allowedRoles admits nobody.
func (m *Manager) Authorize(principal *Principal, allowedRoles ...string) (*Principal, error) {
	if principal == nil {
		return nil, ErrUnauthorized
	}
	if !principal.HasRole(allowedRoles...) {
		m.metricInc(MetricAuthorizeDenied)
		if m != nil && m.logger != nil {
			m.logger.Debug("role not permitted", "subject", principal.Subject, "role", principal.Role)
		}
		return nil, fmt.Errorf("%w: role %q not in %v", ErrInsufficientRole, principal.Role, allowedRoles)
	}
	return principal, nil
}

/*
====================================
REVOCATION
====================================
*/

// Revoke blacklists token until its natural expiry. Tokens at or past expiry are
// still accepted here. A forged or malformed token is an error, never a silent
// success. A returned ErrRevocationNotConfirmed means the store did not
// acknowledge the write and the caller must retry.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	return m.revokeToken(ctx, token, ActionTokenRevoke)
}

// Logout is Revoke recorded in the audit chain as a LOGOUT.
func (m *Manager) Logout(ctx context.Context, token string) error {
	return m.revokeToken(ctx, token, ActionLogout)
}

func (m *Manager) revokeToken(ctx context.Context, token, action string) error {
	if m == nil || m.codec == nil {
		return ErrManagerNotReady
	}

	view, err := m.codec.DecodeForRevocation(token)
	if err != nil {
		m.metricInc(MetricRevokeFailure)
		m.logger.Warn("revocation of invalid token refused", "reason", string(auditErrorCode(err)))
		m.appendAudit(ctx, action, resourceToken, "invalid", "", err, nil)
		return err
	}
	claims := view.Claims

	jti := m.tokenID(token, claims)
	if jti == "" {
		m.metricInc(MetricRevokeFailure)
		err := fmt.Errorf("%w: missing jti", ErrMalformedClaims)
		m.appendAudit(ctx, action, resourceToken, "invalid", claims.Subject, err, nil)
		return err
	}

	exp, hasExp := claims.ExpiresUnix()
	ttl := revocation.TTL(exp, hasExp, m.now(), m.config.Token.Leeway, m.config.Revocation.DefaultTTL)

	err = m.markRevoked(ctx, jti, ttl)
	m.appendAudit(ctx, action, resourceToken, jti, claims.Subject, err, func() map[string]any {
		return map[string]any{
			"ttl_seconds": int64(ttl / time.Second),
			"expired":     view.Expired,
		}
	})
	if err != nil {
		m.metricInc(MetricRevokeFailure)
		m.logger.Error("token revocation not confirmed",
			"jti_prefix", jtiPrefix(jti),
			"subject", claims.Subject,
			"error", err,
		)
		return err
	}

	m.metricInc(MetricRevokeSuccess)
	m.logger.Info("token revoked",
		"action", action,
		"jti_prefix", jtiPrefix(jti),
		"subject", claims.Subject,
		"ttl", ttl,
	)
	return nil
}

// RevokeJTI revokes a token by id without the token itself. A zero expiresAt uses
// Config.Revocation.DefaultTTL.
func (m *Manager) RevokeJTI(ctx context.Context, jti string, expiresAt time.Time) error {
	if m == nil || m.store == nil {
		return ErrManagerNotReady
	}
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("%w: jti is required", ErrValidation)
	}

	ttl := revocation.TTL(expiresAt.Unix(), !expiresAt.IsZero(), m.now(), m.config.Token.Leeway, m.config.Revocation.DefaultTTL)
	err := m.markRevoked(ctx, jti, ttl)
	m.appendAudit(ctx, ActionTokenRevoke, resourceToken, jti, "", err, func() map[string]any {
		return map[string]any{
			"ttl_seconds":    int64(ttl / time.Second),
			"administrative": true,
		}
	})
	if err != nil {
		m.metricInc(MetricRevokeFailure)
		m.logger.Error("administrative revocation not confirmed", "jti_prefix", jtiPrefix(jti), "error", err)
		return err
	}
	m.metricInc(MetricRevokeSuccess)
	m.logger.Info("token revoked by id", "jti_prefix", jtiPrefix(jti), "ttl", ttl)
	return nil
}

// IsRevoked reports whether jti is currently revoked.
func (m *Manager) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if m == nil || m.store == nil {
		return false, ErrManagerNotReady
	}
	revoked, err := m.store.IsRevoked(ctx, jti)
	if err != nil {
		m.metricInc(MetricStoreUnavailable)
		return false, fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
	}
	return revoked, nil
}

// markRevoked writes the marker, retrying unacknowledged writes with linear backoff.
func (m *Manager) markRevoked(ctx context.Context, jti string, ttl time.Duration) error {
	attempts := m.config.Revocation.MarkRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := m.store.MarkRevoked(ctx, jti, ttl)
		if err == nil {
			return nil
		}
		lastErr = err
		m.metricInc(MetricStoreUnavailable)

		if attempt == attempts || ctx.Err() != nil {
			break
		}
		m.metricInc(MetricRevokeRetry)
		m.logger.Warn("revocation write failed; retrying",
			"jti_prefix", jtiPrefix(jti),
			"attempt", attempt,
			"error", err,
		)
		if !sleepContext(ctx, m.config.Revocation.RetryBackoff*time.Duration(attempt)) {
			break
		}
	}
	return fmt.Errorf("%w: %w", ErrRevocationNotConfirmed, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

/*
====================================
LOGIN
====================================
*/

// Login verifies a username and password against the principal provider and
// issues a token for the principal's role.
func (m *Manager) Login(ctx context.Context, username, plain string) (*IssuedToken, error) {
	if m == nil || m.codec == nil {
		return nil, ErrManagerNotReady
	}
	if strings.TrimSpace(username) == "" || plain == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	}

	record, err := m.principals.PrincipalBySubject(ctx, username)
	if err != nil && !errors.Is(err, ErrUnknownPrincipal) {
		m.logger.Error("principal lookup failed", "subject", username, "error", err)
		return nil, fmt.Errorf("principal lookup: %w", err)
	}
	if err != nil || record.PasswordHash == "" {
		// Spend the same argon2 work as a real check so timing does not reveal
		// which usernames exist.
		_, _ = m.hasher.Verify(plain, m.dummyPasswordHash())
		return nil, m.loginFailed(ctx, username, ErrInvalidCredentials)
	}

	ok, err := m.hasher.Verify(plain, record.PasswordHash)
	if err != nil {
		m.logger.Error("stored password hash unreadable", "subject", username, "error", err)
	}
	if err != nil || !ok {
		return nil, m.loginFailed(ctx, username, ErrInvalidCredentials)
	}
	if record.Disabled {
		return nil, m.loginFailed(ctx, username, ErrDisabledPrincipal)
	}

	m.upgradePasswordHash(ctx, record, plain)

	issued, err := m.IssueToken(ctx, record.Subject, record.Role, 0)
	if err != nil {
		return nil, err
	}

	m.metricInc(MetricLoginSuccess)
	m.appendAudit(ctx, ActionLogin, resourcePrincipal, record.Subject, record.Subject, nil, func() map[string]any {
		return map[string]any{"jti": issued.JTI}
	})
	return issued, nil
}

func (m *Manager) loginFailed(ctx context.Context, username string, err error) error {
	m.metricInc(MetricLoginFailure)
	m.logger.Warn("login failed", "subject", username, "reason", string(auditErrorCode(err)))
	m.appendAudit(ctx, ActionLogin, resourcePrincipal, username, "", err, nil)
	return err
}

func (m *Manager) upgradePasswordHash(ctx context.Context, record PrincipalRecord, plain string) {
	updater, ok := m.principals.(PasswordHashUpdater)
	if !ok {
		return
	}
	stale, err := m.hasher.NeedsRehash(record.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := m.hasher.Hash(plain)
	if err != nil {
		return
	}
	if err := updater.UpdatePasswordHash(ctx, record.Subject, hash); err != nil {
		m.logger.Warn("password rehash not stored", "subject", record.Subject, "error", err)
	}
}

func (m *Manager) dummyPasswordHash() string {
	m.dummyOnce.Do(func() {
		m.dummyHash, _ = m.hasher.Hash("authtrail-unknown-principal")
	})
	return m.dummyHash
}

func jtiPrefix(jti string) string {
	if len(jti) > 8 {
		return jti[:8]
	}
	return jti
}
