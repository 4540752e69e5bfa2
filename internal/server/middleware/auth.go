package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/proposalgate/proposalgate/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal is the authenticated staff member making the request.
type Principal struct {
	Email   string
	Role    string
	IsAdmin bool
}

// TokenValidator verifies staff bearer tokens.
type TokenValidator interface {
	ValidateJWT(ctx context.Context, token string) (*service.Principal, error)
}

// Authenticate returns an HTTP middleware that requires a staff JWT in the
// Authorization header. On success a Principal is attached to the request
// context; otherwise a 401 JSON error is returned.
func Authenticate(auth TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide a Bearer token.")
				return
			}
			p, err := auth.ValidateJWT(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			principal := &Principal{
				Email:   p.Email,
				Role:    p.Role,
				IsAdmin: p.Role == service.RoleAdmin,
			}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"` + message + `"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 403:
		return "403"
	default:
		return "500"
	}
}
