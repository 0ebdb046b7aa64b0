package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/harborarts/member-api/internal/httputil"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const (
	AccountIDContextKey ContextKey = "account_id"
	EmailContextKey     ContextKey = "email"
	RoleContextKey      ContextKey = "role"
)

// TokenVerifier validates session credentials for protected routes.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*SessionClaims, error)
}

// Middleware handles authentication for protected routes
type Middleware struct {
	tokens TokenVerifier
}

func NewMiddleware(tokens TokenVerifier) *Middleware {
	return &Middleware{tokens: tokens}
}

// RequireAuth validates the bearer session credential and places the
// subject's id, email, and role into the request context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.RespondErrorWithCode(w, "invalid authorization header format", httputil.CodeInvalidAuthHeader, http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.VerifyToken(parts[1])
		if err != nil {
			if errors.Is(err, ErrExpiredSessionToken) {
				httputil.RespondErrorWithCode(w, "session has expired", httputil.CodeTokenExpired, http.StatusUnauthorized)
				return
			}
			httputil.RespondErrorWithCode(w, "invalid session token", httputil.CodeInvalidToken, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), AccountIDContextKey, claims.AccountID)
		ctx = context.WithValue(ctx, EmailContextKey, claims.Email)
		ctx = context.WithValue(ctx, RoleContextKey, claims.Role)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAccountIDFromContext extracts the session subject's account id.
func GetAccountIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(AccountIDContextKey).(int64)
	return id, ok
}

// GetEmailFromContext extracts the session subject's email.
func GetEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(EmailContextKey).(string)
	return email, ok
}

// GetRoleFromContext extracts the session subject's role.
func GetRoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleContextKey).(string)
	return role, ok
}
