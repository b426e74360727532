package middleware

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authtrail"
)

// LogoutHandler revokes the request's bearer token. It answers 204 once the
// revocation is confirmed, 401 for an unusable token, and 503 when the store did
// not acknowledge the write so the client knows to retry.
func LogoutHandler(manager *authtrail.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if manager == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		err := manager.Logout(requestContext(r), token)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, authtrail.ErrRevocationNotConfirmed):
			w.Header().Set("Retry-After", "1")
			http.Error(w, "logout not confirmed", http.StatusServiceUnavailable)
		default:
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	})
}
