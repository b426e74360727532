package middleware

import (
	"net/http"

	"github.com/MrEthical07/authtrail"
)

// RequireRoles admits requests whose principal holds one of roles. It must run
// behind [Guard]; a request without a principal gets 401, a wrong role 403.
func RequireRoles(manager *authtrail.Manager, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, err := manager.Authorize(principal, roles...); err != nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
