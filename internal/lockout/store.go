package lockout

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("lockout: not found")

// State is a principal's account-security bookkeeping: the failed-attempt
// counter since the last reset plus lock metadata. LockedAt non-nil implies
// the count had reached the tenant threshold when the lock was stamped.
type State struct {
	TenantID    string     `json:"tenant_id"`
	PrincipalID string     `json:"principal_id"`
	FailedCount int        `json:"failed_count"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Locked reports whether the account is currently locked.
func (s State) Locked() bool { return s.LockedAt != nil }

// Store persists per-principal security state. Increment and Lock must be
// linearizable per principal: an under-counted race weakens the lockout
// guarantee.
type Store interface {
	State(ctx context.Context, tenantID, principalID string) (State, error)
	// Increment adds one failed attempt and returns the new count.
	Increment(ctx context.Context, tenantID, principalID string) (int, error)
	// Reset zeroes the counter without touching lock metadata.
	Reset(ctx context.Context, tenantID, principalID string) error
	// Lock stamps lock metadata once; transitioned is false when the
	// account was already locked.
	Lock(ctx context.Context, tenantID, principalID, lockedBy, reason string) (State, bool, error)
	// Unlock clears lock metadata and the counter.
	Unlock(ctx context.Context, tenantID, principalID string) error
}

// MemoryStore keeps security state in process behind a single mutex, which
// serializes increments per instance. Multi-instance deployments use the
// Postgres store, where a single-statement update serializes per row.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*State),
		now:    time.Now,
	}
}

func stateKey(tenantID, principalID string) string {
	return tenantID + "\x00" + principalID
}

func (s *MemoryStore) get(tenantID, principalID string) *State {
	key := stateKey(tenantID, principalID)
	st, ok := s.states[key]
	if !ok {
		st = &State{TenantID: tenantID, PrincipalID: principalID}
		s.states[key] = st
	}
	return st
}

func (s *MemoryStore) State(_ context.Context, tenantID, principalID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.get(tenantID, principalID), nil
}

func (s *MemoryStore) Increment(_ context.Context, tenantID, principalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(tenantID, principalID)
	st.FailedCount++
	return st.FailedCount, nil
}

func (s *MemoryStore) Reset(_ context.Context, tenantID, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(tenantID, principalID).FailedCount = 0
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, tenantID, principalID, lockedBy, reason string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(tenantID, principalID)
	if st.LockedAt != nil {
		return *st, false, nil
	}
	at := s.now().UTC()
	st.LockedAt = &at
	st.LockedBy = lockedBy
	st.Reason = reason
	return *st, true, nil
}

func (s *MemoryStore) Unlock(_ context.Context, tenantID, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(tenantID, principalID)
	st.LockedAt = nil
	st.LockedBy = ""
	st.Reason = ""
	st.FailedCount = 0
	return nil
}
