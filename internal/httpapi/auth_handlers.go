package httpapi

import (
	"net/http"
	"strings"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/loginsec"
	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/session"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.login == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login service unavailable")
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res := a.login.AttemptLogin(r.Context(), req.Identifier, req.Secret, clientIP(r), r.UserAgent())
	if res.Outcome != loginsec.OutcomeSession {
		// one body for every failure mode; the true cause stays internal
		writeError(w, r, http.StatusUnauthorized, res.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        res.Token,
		"principal_id": res.PrincipalID,
		"tenant_id":    res.TenantID,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.login == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login service unavailable")
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	a.login.Logout(r.Context(), req.Token)
	w.WriteHeader(http.StatusNoContent)
}

// handleSession validates an opaque session token and advances its activity
// clock.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.login == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login service unavailable")
		return
	}
	tok := strings.TrimSpace(r.Header.Get("X-Session-Token"))
	if tok == "" {
		writeError(w, r, http.StatusBadRequest, "X-Session-Token header is required")
		return
	}
	state := a.login.Validate(r.Context(), tok, clientIP(r))
	if state == session.TouchExpired {
		writeError(w, r, http.StatusUnauthorized, "session expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": state.String(),
	})
}

type decisionRequest struct {
	PrincipalID string `json:"principal_id"`
	TenantID    string `json:"tenant_id"`
	Action      string `json:"action"`
	ScopeType   string `json:"scope_type"`
}

func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.authorizer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization service unavailable")
		return
	}
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decision := a.authorizer.Authorize(r.Context(), req.PrincipalID, req.TenantID, req.Action, req.ScopeType)
	writeJSON(w, http.StatusOK, decision)
}
