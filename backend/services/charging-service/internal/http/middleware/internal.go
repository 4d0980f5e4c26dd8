package middleware

import (
	"crypto/subtle"
	"net/http"
)

// InternalTokenHeader carries the shared secret of device-facing callers.
const InternalTokenHeader = "X-Internal-Token"

// InternalAuth admits requests presenting the shared internal token. An empty token rejects all.
func InternalAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InternalTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeUnauthorized(w, "invalid internal token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
