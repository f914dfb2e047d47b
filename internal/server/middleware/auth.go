// Package middleware provides HTTP middleware for authentication.
package middleware

import (
	"crypto/subtle"
	"net/http"
)

// HeaderAPIKey is the header carrying the client's API key.
const HeaderAPIKey = "X-API-Key"

// APIKey creates middleware that checks the X-API-Key header against the
// configured key. An empty configured key disables the check entirely
// (development mode).
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(HeaderAPIKey)
			if provided == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
