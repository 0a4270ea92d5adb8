package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const ownerContextKey contextKey = "owner"

// maxOwnerIDLen bounds the owner header; longer values are rejected.
const maxOwnerIDLen = 256

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireOwner resolves the caller's owner id from header and stores it on
// the request context. Requests without a usable id get 401.
func RequireOwner(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := strings.TrimSpace(r.Header.Get(header))
			if owner == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Owner identity required"})
				return
			}
			if len(owner) > maxOwnerIDLen {
				writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Owner identity too long"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

// WithOwner returns a copy of ctx carrying owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerContextKey, owner)
}

// GetOwner returns the owner id set by RequireOwner, or "".
func GetOwner(r *http.Request) string {
	owner, _ := r.Context().Value(ownerContextKey).(string)
	return owner
}
