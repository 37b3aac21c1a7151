package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/audit"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/authz"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/token"
)

// adminRole is the seeded system role whose holders may call the
// tenant-scoped admin surface.
const adminRole = "admin"

type createRoleRequest struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Name *string `json:"name"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type attachRoleRequest struct {
	RoleID string `json:"role_id"`
}

type createGrantRequest struct {
	ScopeType  string `json:"scope_type"`
	ScopeKey   string `json:"scope_key"`
	Effect     string `json:"effect"`
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`
}

type updateGrantRequest struct {
	Effect *string `json:"effect"`
}

type assignSeatRequest struct {
	PrincipalID string `json:"principal_id"`
}

type lockRequest struct {
	Reason string `json:"reason"`
}

// handleTenantScoped routes /v1/tenants/{id}/... by hand, the same way the
// rest of the surface avoids a router dependency.
func (a *API) handleTenantScoped(w http.ResponseWriter, r *http.Request) {
	if a.admin == nil {
		writeError(w, r, http.StatusServiceUnavailable, "admin service unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	tenantID := parts[0]
	rest := parts[1:]

	// a token only administers the tenant it was issued for, and only when
	// it carries the admin role
	if claimed, ok := token.TenantFromContext(r.Context()); !ok || claimed != tenantID {
		writeError(w, r, http.StatusForbidden, "token is not scoped to this tenant")
		return
	}
	if !token.HasRole(r.Context(), adminRole) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}

	switch rest[0] {
	case "roles":
		a.handleRoles(w, r, tenantID, rest[1:])
	case "memberships":
		a.handleMemberships(w, r, tenantID, rest[1:])
	case "grants":
		a.handleGrants(w, r, tenantID, rest[1:])
	case "license":
		a.handleLicense(w, r, tenantID, rest[1:])
	case "seats":
		a.handleSeats(w, r, tenantID, rest[1:])
	case "principals":
		a.handlePrincipals(w, r, tenantID, rest[1:])
	case "permissions":
		a.handlePermissions(w, r, tenantID, rest[1:])
	case "events":
		a.handleEvents(w, r, tenantID, rest[1:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	switch len(rest) {
	case 0:
		switch r.Method {
		case http.MethodPost:
			var req createRoleRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			role, err := a.admin.CreateRole(r.Context(), tenantID, req.Key, req.Name, req.Permissions)
			if err != nil {
				handleAdminError(w, r, err)
				return
			}
			w.Header().Set("Location", fmt.Sprintf("/v1/tenants/%s/roles/%s", tenantID, role.ID))
			writeJSON(w, http.StatusCreated, role)
		case http.MethodGet:
			roles, err := a.admin.ListRoles(r.Context(), tenantID)
			if err != nil {
				handleAdminError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
		default:
			methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
		}
	case 1:
		roleID := rest[0]
		switch r.Method {
		case http.MethodPatch:
			var req updateRoleRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			role, err := a.admin.UpdateRole(r.Context(), tenantID, roleID, authz.RoleUpdate{Name: req.Name})
			if err != nil {
				handleAdminError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, role)
		case http.MethodDelete:
			if err := a.admin.DeleteRole(r.Context(), tenantID, roleID); err != nil {
				handleAdminError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
		}
	case 2:
		if rest[1] != "permissions" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		var req setRolePermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.admin.SetRolePermissions(r.Context(), tenantID, rest[0], req.Permissions); err != nil {
			handleAdminError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleMemberships(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	// memberships/{principalID}/roles[/{roleID}]
	if len(rest) < 2 || rest[1] != "roles" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	principalID := rest[0]
	switch {
	case len(rest) == 2 && r.Method == http.MethodPost:
		var req attachRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		m, err := a.admin.AttachRole(r.Context(), tenantID, principalID, req.RoleID)
		if err != nil {
			handleAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	case len(rest) == 3 && r.Method == http.MethodDelete:
		m, err := a.admin.DetachRole(r.Context(), tenantID, principalID, rest[2])
		if err != nil {
			handleAdminError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	switch len(rest) {
	case 0:
		switch r.Method {
		case http.MethodPost:
			var req createGrantRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			grant, err := a.admin.CreateGrant(r.Context(), tenantID, req.ScopeType, req.ScopeKey, req.Effect, req.TargetKind, req.TargetID)
			if err != nil {
				handleAdminError(w, r, err)
				return
			}
			w.Header().Set("Location", fmt.Sprintf("/v1/tenants/%s/grants/%s", tenantID, grant.ID))
			writeJSON(w, http.StatusCreated, grant)
		case http.MethodGet:
			grants, err := a.admin.ListGrants(r.Context(), tenantID)
			if err != nil {
				handleAdminError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
		default:
			methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
		}
	case 1:
		switch r.Method {
		case http.MethodPatch:
			var req updateGrantRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			grant, err := a.admin.UpdateGrant(r.Context(), tenantID, rest[0], authz.GrantUpdate{Effect: req.Effect})
			if err != nil {
				handleAdminError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, grant)
		case http.MethodDelete:
			if err := a.admin.DeleteGrant(r.Context(), tenantID, rest[0]); err != nil {
				handleAdminError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleLicense(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	if len(rest) != 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	lic, err := a.admin.License(r.Context(), tenantID)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

func (a *API) handleSeats(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req assignSeatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.admin.AssignSeat(r.Context(), tenantID, req.PrincipalID); err != nil {
			handleAdminError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := a.admin.RevokeSeat(r.Context(), tenantID, rest[0]); err != nil {
			handleAdminError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handlePrincipals(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	if a.guard == nil {
		writeError(w, r, http.StatusServiceUnavailable, "lockout guard unavailable")
		return
	}
	if len(rest) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	principalID := rest[0]
	actor := actorFromContext(r)
	switch rest[1] {
	case "lock":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req lockRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.guard.LockByAdmin(r.Context(), tenantID, principalID, actor, req.Reason); err != nil {
			writeError(w, r, http.StatusInternalServerError, "lock failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "unlock":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if err := a.guard.Unlock(r.Context(), tenantID, principalID, actor); err != nil {
			writeError(w, r, http.StatusInternalServerError, "unlock failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "security":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		st, err := a.guard.State(r.Context(), tenantID, principalID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "state lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"failed_count": st.FailedCount,
			"locked":       st.Locked(),
			"locked_at":    st.LockedAt,
			"locked_by":    st.LockedBy,
			"reason":       st.Reason,
		})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	if len(rest) != 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.admin.EnsurePermissions(r.Context(), tenantID, req.Permissions); err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request, tenantID string, rest []string) {
	if a.sink == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit sink unavailable")
		return
	}
	if len(rest) != 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parsePositiveInt(q.Get("offset"), 0, 0, 1_000_000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter := audit.Filter{
		TenantID:    tenantID,
		PrincipalID: q.Get("principal_id"),
		Type:        q.Get("type"),
		Limit:       limit,
		Offset:      offset,
	}
	if raw := q.Get("success"); raw != "" {
		success := raw == "true"
		filter.Success = &success
	}
	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		filter.From = ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		filter.To = ts
	}

	events, err := a.sink.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "event listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func handleAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrUnknownToken):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrSystemRole):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, authz.ErrSeatsExhausted):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "admin operation failed")
	}
}
