package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authtrail"
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by [Guard].
func PrincipalFromContext(ctx context.Context) (*authtrail.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*authtrail.Principal)
	return p, ok && p != nil
}

// Guard authenticates the bearer token of every request. Any failure, including an
// unreachable revocation store under the fail-closed policy, is answered with a
// generic 401.
func Guard(manager *authtrail.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := requestContext(r)
			principal, err := manager.Authenticate(ctx, token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestContext carries the caller's address, user agent and request id into audit
// entries appended while serving r.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if ip := clientIP(r.RemoteAddr); ip != "" {
		ctx = authtrail.WithClientIP(ctx, ip)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = authtrail.WithUserAgent(ctx, ua)
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		ctx = authtrail.WithRequestID(ctx, id)
	}
	return ctx
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
