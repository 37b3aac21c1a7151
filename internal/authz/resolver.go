package authz

import (
	"context"
	"strings"
)

// Verdict is the three-valued result of grant resolution. Abstain means "no
// explicit grant matched, fall back to role-derived permission".
type Verdict int

const (
	VerdictAbstain Verdict = iota
	VerdictAllow
	VerdictDeny
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictDeny:
		return "deny"
	default:
		return "abstain"
	}
}

// EffectivePermissions computes the union of permission sets across all roles
// attached to the principal's active membership. A missing or non-active
// membership, and any lookup error, yield the empty set: the caller keeps its
// deny-by-default posture without an error path to mishandle.
func (s *Service) EffectivePermissions(ctx context.Context, principalID, tenantID string) map[string]struct{} {
	perms := make(map[string]struct{})
	m, err := s.reads.membership(ctx, tenantID, principalID)
	if err != nil || m.Status != MembershipActive {
		return perms
	}
	if len(m.RoleIDs) == 0 {
		return perms
	}
	roles, err := s.reads.roles(ctx, tenantID, m.RoleIDs)
	if err != nil {
		return perms
	}
	for _, role := range roles {
		for _, p := range role.Permissions {
			perms[p] = struct{}{}
		}
	}
	return perms
}

// ResolveGrant applies explicit overrides for (scopeType, scopeKey). Candidate
// grants target the tenant at large, the principal, one of the principal's
// attached roles, or one of its attached companies. The most specific
// candidates win: principal > role > company > tenant-wide. Conflicts at equal
// specificity resolve deny before allow.
func (s *Service) ResolveGrant(ctx context.Context, principalID, tenantID, scopeType, scopeKey string) Verdict {
	m, err := s.reads.membership(ctx, tenantID, principalID)
	if err != nil || m.Status != MembershipActive {
		return VerdictAbstain
	}
	grants, err := s.reads.grants(ctx, tenantID, scopeType, scopeKey)
	if err != nil {
		return VerdictAbstain
	}
	return resolveGrants(grants, m)
}

func resolveGrants(grants []AccessGrant, m Membership) Verdict {
	roleSet := toSet(m.RoleIDs)
	companySet := toSet(m.CompanyIDs)

	// specificity rank per candidate; -1 when the grant does not apply
	rank := func(g AccessGrant) int {
		switch g.TargetKind {
		case TargetPrincipal:
			if g.TargetID == m.PrincipalID {
				return 3
			}
		case TargetRole:
			if _, ok := roleSet[g.TargetID]; ok {
				return 2
			}
		case TargetCompany:
			if _, ok := companySet[g.TargetID]; ok {
				return 1
			}
		case "":
			return 0
		}
		return -1
	}

	best := -1
	verdict := VerdictAbstain
	for _, g := range grants {
		r := rank(g)
		if r < 0 {
			continue
		}
		switch {
		case r > best:
			best = r
			verdict = effectVerdict(g.Effect)
		case r == best && g.Effect == EffectDeny:
			verdict = VerdictDeny
		}
	}
	return verdict
}

func effectVerdict(effect string) Verdict {
	if effect == EffectAllow {
		return VerdictAllow
	}
	return VerdictDeny
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// seatGated reports whether the action falls in one of the tenant's
// seat-gated action classes.
func seatGated(t Tenant, action string) bool {
	for _, prefix := range t.SeatActionPrefixes {
		if prefix != "" && strings.HasPrefix(action, prefix) {
			return true
		}
	}
	return false
}
