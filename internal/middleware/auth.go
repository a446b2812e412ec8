package middleware

import (
	"crypto/subtle"
	"net/http"

	"zipsea-sync-api/pkg/apierror"
	"zipsea-sync-api/pkg/response"
)

// APIKey guards the admin endpoints with a static key check. The key is
// read from the X-API-Key header. With no keys configured, every request
// is rejected rather than waved through.
func APIKey(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-API-Key")
			if provided == "" || !keyMatches(keys, provided) {
				response.Error(w, apierror.Unauthorized("invalid or missing API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyMatches(keys []string, provided string) bool {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(provided)) == 1 {
			return true
		}
	}
	return false
}
