package authz

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// decisionCache holds short-lived snapshots of read-mostly rows (memberships,
// roles, grants, tenants, seat state). Lockout counters and lock state are
// never cached here; those live behind the lockout store with their own
// linearizability requirements.
type decisionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	return &decisionCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *decisionCache) get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *decisionCache) put(key string, value any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// readLayer fronts the store with the snapshot cache.
type readLayer struct {
	store Store
	cache *decisionCache
}

func (r readLayer) tenant(ctx context.Context, tenantID string) (Tenant, error) {
	key := "tenant\x00" + tenantID
	if v, ok := r.cache.get(key); ok {
		return v.(Tenant), nil
	}
	t, err := r.store.Tenant(ctx, tenantID)
	if err != nil {
		return Tenant{}, err
	}
	r.cache.put(key, t)
	return t, nil
}

func (r readLayer) membership(ctx context.Context, tenantID, principalID string) (Membership, error) {
	key := "member\x00" + tenantID + "\x00" + principalID
	if v, ok := r.cache.get(key); ok {
		return v.(Membership), nil
	}
	m, err := r.store.MembershipByPrincipal(ctx, tenantID, principalID)
	if err != nil {
		return Membership{}, err
	}
	r.cache.put(key, m)
	return m, nil
}

func (r readLayer) roles(ctx context.Context, tenantID string, roleIDs []string) ([]Role, error) {
	sorted := append([]string(nil), roleIDs...)
	sort.Strings(sorted)
	key := "roles\x00" + tenantID + "\x00" + strings.Join(sorted, "\x00")
	if v, ok := r.cache.get(key); ok {
		return v.([]Role), nil
	}
	roles, err := r.store.RolesByIDs(ctx, tenantID, roleIDs)
	if err != nil {
		return nil, err
	}
	r.cache.put(key, roles)
	return roles, nil
}

func (r readLayer) grants(ctx context.Context, tenantID, scopeType, scopeKey string) ([]AccessGrant, error) {
	key := "grants\x00" + tenantID + "\x00" + scopeType + "\x00" + scopeKey
	if v, ok := r.cache.get(key); ok {
		return v.([]AccessGrant), nil
	}
	grants, err := r.store.GrantsByScope(ctx, tenantID, scopeType, scopeKey)
	if err != nil {
		return nil, err
	}
	r.cache.put(key, grants)
	return grants, nil
}

func (r readLayer) seatActive(ctx context.Context, tenantID, principalID string) (bool, error) {
	key := "seat\x00" + tenantID + "\x00" + principalID
	if v, ok := r.cache.get(key); ok {
		return v.(bool), nil
	}
	active, err := r.store.SeatActive(ctx, tenantID, principalID)
	if err != nil {
		return false, err
	}
	r.cache.put(key, active)
	return active, nil
}
