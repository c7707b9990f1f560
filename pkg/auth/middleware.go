package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// AccessClaims is what a verified access credential asserts.
type AccessClaims struct {
	UserID   string
	TenantID string
	Role     Role
}

// TokenVerifier checks an access credential's signature and expiry.
type TokenVerifier interface {
	VerifyAccess(token string) (*AccessClaims, error)
}

// UserLoader resolves the credential's subject to a live account.
// Returns (email, true) only for users with status ACTIVE.
type UserLoader interface {
	ActiveUserEmail(ctx context.Context, userID string) (string, bool, error)
}

// writeUnauthorized emits the wire error shape without importing the
// api package (which sits above this middleware).
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

func writeForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// Authenticate validates the Bearer access credential, loads the user
// (must be ACTIVE) and attaches the principal. The credential's
// tenantId and role win over the persisted user row.
func Authenticate(verifier TokenVerifier, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, "Missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeUnauthorized(w, "Invalid Authorization header format")
				return
			}

			claims, err := verifier.VerifyAccess(parts[1])
			if err != nil {
				writeUnauthorized(w, "Invalid or expired access token")
				return
			}

			email, active, err := users.ActiveUserEmail(r.Context(), claims.UserID)
			if err != nil || !active {
				writeUnauthorized(w, "Invalid or expired access token")
				return
			}

			principal := &Principal{
				ID:       claims.UserID,
				Email:    email,
				TenantID: claims.TenantID,
				Role:     claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRoles gates a handler on the principal's active role.
// SUPER_ADMIN passes every gate.
func RequireRoles(next http.Handler, roles ...Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeUnauthorized(w, "Authentication required")
			return
		}
		if !p.Allowed(roles...) {
			writeForbidden(w, "Insufficient role for this operation")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSuperAdmin is the strict gate: no role but SUPER_ADMIN passes.
func RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeUnauthorized(w, "Authentication required")
			return
		}
		if !p.IsSuperAdmin() {
			writeForbidden(w, "Super admin required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
