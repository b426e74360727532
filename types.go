package authtrail

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Principal is the identity resolved from a valid, unrevoked token.
type Principal struct {
	Subject   string
	Role      string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the principal's role is one of roles.
func (p *Principal) HasRole(roles ...string) bool {
	return p != nil && slices.Contains(roles, p.Role)
}

// IssuedToken is the result of a successful issuance.
type IssuedToken struct {
	Token     string
	JTI       string
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PrincipalRecord is what a [PrincipalProvider] knows about a subject.
type PrincipalRecord struct {
	Subject      string
	Role         string
	Disabled     bool
	PasswordHash string
}

// PrincipalProvider resolves subjects to records. Implementations return
// ErrUnknownPrincipal (possibly wrapped) when the subject does not exist; any other
// error denies the request.
type PrincipalProvider interface {
	PrincipalBySubject(ctx context.Context, subject string) (PrincipalRecord, error)
}

// PasswordHashUpdater is implemented by providers that accept rehashed passwords
// after a successful login with outdated argon2 parameters.
type PasswordHashUpdater interface {
	UpdatePasswordHash(ctx context.Context, subject, hash string) error
}

// StaticPrincipalProvider is an in-memory [PrincipalProvider], suitable for tests and
// small deployments with a fixed set of principals.
type StaticPrincipalProvider struct {
	mu      sync.RWMutex
	records map[string]PrincipalRecord
}

func NewStaticPrincipalProvider(records ...PrincipalRecord) *StaticPrincipalProvider {
	p := &StaticPrincipalProvider{records: make(map[string]PrincipalRecord, len(records))}
	for _, r := range records {
		p.records[r.Subject] = r
	}
	return p
}

func (p *StaticPrincipalProvider) PrincipalBySubject(_ context.Context, subject string) (PrincipalRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.records[subject]
	if !ok {
		return PrincipalRecord{}, ErrUnknownPrincipal
	}
	return r, nil
}

func (p *StaticPrincipalProvider) UpdatePasswordHash(_ context.Context, subject, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.records[subject]
	if !ok {
		return ErrUnknownPrincipal
	}
	r.PasswordHash = hash
	p.records[subject] = r
	return nil
}

// Put adds or replaces a record.
func (p *StaticPrincipalProvider) Put(r PrincipalRecord) {
	p.mu.Lock()
	p.records[r.Subject] = r
	p.mu.Unlock()
}

// SetDisabled toggles a subject's disabled flag. Unknown subjects are ignored.
func (p *StaticPrincipalProvider) SetDisabled(subject string, disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.records[subject]; ok {
		r.Disabled = disabled
		p.records[subject] = r
	}
}

// Remove deletes a subject.
func (p *StaticPrincipalProvider) Remove(subject string) {
	p.mu.Lock()
	delete(p.records, subject)
	p.mu.Unlock()
}
