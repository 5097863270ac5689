// Package api implements the rankwatch REST API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware returns middleware that validates an API token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry the token either as
// "Authorization: Bearer <token>" or as "X-API-Key: <token>". A missing
// token is 401, a wrong one 403.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("X-API-Key")
			if auth := r.Header.Get("Authorization"); got == "" && strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
			if got == "" {
				w.Header().Set("WWW-Authenticate", "ApiKey")
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusForbidden, errorBody("invalid api key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
