package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
)

// CookieName is the HTTP-only cookie that carries the session token.
const CookieName = "token"

// contextKey is unexported so no other package can read or shadow the
// claims stored in a request context.
type contextKey string

const claimsKey contextKey = "claims"

// RequireAuth rejects requests without a valid session token with 401 and
// stores the verified claims in the request context.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromRequest(r)
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}

			claims, err := tokens.Verify(raw, PurposeSession)
			if err != nil {
				code, msg := "invalid_token", "invalid token"
				if errors.Is(err, ErrTokenExpired) {
					code, msg = "expired_token", "token expired"
				}
				writeAuthError(w, http.StatusUnauthorized, code, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// ErrUserGone is returned by a RoleSource when the token's subject no
// longer exists.
var ErrUserGone = errors.New("auth: user no longer exists")

// RoleSource reports a user's stored role.
type RoleSource interface {
	CurrentRole(ctx context.Context, userID string) (string, error)
}

// RefreshRole must run after RequireAuth. It replaces the role claim with
// the stored one, so a role change applies to RequireRole immediately
// instead of when the session token expires.
func RefreshRole(src RoleSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}

			role, err := src.CurrentRole(r.Context(), claims.UserID())
			if errors.Is(err, ErrUserGone) {
				writeAuthError(w, http.StatusUnauthorized, "user_not_found", "user not found")
				return
			}
			if err != nil {
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			}

			refreshed := *claims
			refreshed.Role = role
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), &refreshed)))
		})
	}
}

// RequireRole must run after RequireAuth. It answers 403 unless the role
// claim is one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if !slices.Contains(roles, claims.Role) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.UserID() == "" {
		return "", false
	}
	return c.UserID(), true
}

// TokenFromRequest returns the session token from the "token" cookie, or
// from an "Authorization: Bearer" header when no cookie is present.
// It returns "" when neither is set.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
