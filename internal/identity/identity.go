// Package identity exposes the account resolved by the upstream auth layer.
// The storefront never authenticates; it trusts the headers set by the
// gateway in front of it.
package identity

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
)

const (
	HeaderAccountID = "X-Account-ID"
	HeaderRole      = "X-Account-Role"
)

type contextKey struct{}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(domain.Identity)
	return id, ok
}

// Middleware rejects requests that reach the core without a resolved account.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID := r.Header.Get(HeaderAccountID)
		if accountID == "" {
			writeError(w, http.StatusUnauthorized, "missing account identity")
			return
		}

		role := domain.Role(r.Header.Get(HeaderRole))
		if role != domain.RoleAdmin {
			role = domain.RoleUser
		}

		ctx := WithIdentity(r.Context(), domain.Identity{AccountID: accountID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok || !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
