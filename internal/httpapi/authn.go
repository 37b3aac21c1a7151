package httpapi

import (
	"net/http"
	"strings"

	"github.com/Q-Sourcing/payrun-pro-staging-sub004/internal/token"
)

// publicPaths are reachable without a bearer token. Everything else on the
// mux requires a valid signed token.
var publicPaths = map[string]bool{
	"/":                true,
	"/healthz":         true,
	"/readyz":          true,
	"/metrics":         true,
	"/v1/info":         true,
	"/v1/auth/login":   true,
	"/v1/auth/logout":  true,
	"/v1/auth/session": true,
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := extractBearerToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := token.ParseAndValidate(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := token.ContextWithPrincipal(r.Context(), claims.Subject, claims.TenantID, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicPath(path string) bool {
	return publicPaths[path]
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return "", false
	}
	return raw, true
}

// actorFromContext names the authenticated caller for audit attribution.
func actorFromContext(r *http.Request) string {
	if principal, ok := token.PrincipalFromContext(r.Context()); ok {
		return principal
	}
	return "unknown"
}
