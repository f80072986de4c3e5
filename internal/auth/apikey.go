// Package auth provides HTTP middleware for admin API keys and signed provider webhooks.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyHeader is the header carrying the admin API key
const APIKeyHeader = "X-API-Key"

// AdminKey guards destructive routes with a shared admin key.
type AdminKey struct {
	key string
}

// NewAdminKey creates the guard. An empty key rejects every request.
func NewAdminKey(key string) *AdminKey {
	return &AdminKey{key: key}
}

// Middleware returns the chi-compatible middleware.
func (a *AdminKey) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.key == "" {
			deny(w, http.StatusForbidden, "admin API key not configured")
			return
		}

		apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if apiKey == "" {
			deny(w, http.StatusUnauthorized, "missing API key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.key)) != 1 {
			deny(w, http.StatusForbidden, "invalid admin API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// deny writes the same envelope as the REST handlers.
func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
		"code":    status,
	})
}
