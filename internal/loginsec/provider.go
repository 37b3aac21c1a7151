package loginsec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned by Verify when the secret does not match.
var ErrBadCredentials = errors.New("loginsec: bad credentials")

// ErrUnknownIdentity is returned by Lookup for an unregistered identifier.
var ErrUnknownIdentity = errors.New("loginsec: unknown identity")

// Principal is the identity behind a login identifier.
type Principal struct {
	ID               string
	TenantID         string
	LockoutThreshold int
}

// IdentityProvider is the external credential authority. Lookup resolves an
// identifier before the lock gate runs; Verify performs the actual secret
// check and is never called for a locked account.
type IdentityProvider interface {
	Lookup(ctx context.Context, identifier string) (Principal, error)
	Verify(ctx context.Context, identifier, secret string) error
}

type localUser struct {
	principal Principal
	hash      []byte
}

// LocalProvider is an in-process IdentityProvider storing bcrypt hashes. It
// backs development deployments and tests; production wires an external
// directory instead.
type LocalProvider struct {
	mu    sync.RWMutex
	users map[string]localUser
}

// NewLocalProvider returns an empty provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{users: make(map[string]localUser)}
}

// Register stores identifier with a bcrypt hash of secret.
func (p *LocalProvider) Register(identifier, secret string, principal Principal) error {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || secret == "" {
		return fmt.Errorf("%w: identifier and secret are required", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[identifier] = localUser{principal: principal, hash: hash}
	return nil
}

// UserRecord is the seed-file form of one local identity.
type UserRecord struct {
	Identifier       string `json:"identifier"`
	Secret           string `json:"secret"`
	PrincipalID      string `json:"principal_id"`
	TenantID         string `json:"tenant_id"`
	LockoutThreshold int    `json:"lockout_threshold,omitempty"`
}

// LoadUsers registers a JSON array of UserRecords, the deployment hook for
// seeding local identities at startup. It returns the number registered; a
// malformed or incomplete record aborts the load.
func (p *LocalProvider) LoadUsers(r io.Reader) (int, error) {
	var records []UserRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("decode users: %w", err)
	}
	for i, rec := range records {
		if rec.PrincipalID == "" || rec.TenantID == "" {
			return 0, fmt.Errorf("%w: user %d needs principal_id and tenant_id", ErrInvalidInput, i)
		}
		if err := p.Register(rec.Identifier, rec.Secret, Principal{
			ID:               rec.PrincipalID,
			TenantID:         rec.TenantID,
			LockoutThreshold: rec.LockoutThreshold,
		}); err != nil {
			return 0, fmt.Errorf("register user %d: %w", i, err)
		}
	}
	return len(records), nil
}

// Lookup implements IdentityProvider.
func (p *LocalProvider) Lookup(_ context.Context, identifier string) (Principal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[strings.ToLower(strings.TrimSpace(identifier))]
	if !ok {
		return Principal{}, ErrUnknownIdentity
	}
	return u.principal, nil
}

// Verify implements IdentityProvider.
func (p *LocalProvider) Verify(_ context.Context, identifier, secret string) error {
	p.mu.RLock()
	u, ok := p.users[strings.ToLower(strings.TrimSpace(identifier))]
	p.mu.RUnlock()
	if !ok {
		return ErrUnknownIdentity
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(secret)); err != nil {
		return ErrBadCredentials
	}
	return nil
}
