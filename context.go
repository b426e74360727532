package authtrail

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type requestIDContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded in the
// details of audit entries appended during the request.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent to ctx for audit details.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithRequestID attaches a correlation id to ctx for audit details and logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// requestDetails returns the request attributes present on ctx, or nil.
func requestDetails(ctx context.Context) map[string]any {
	var out map[string]any
	add := func(name, value string) {
		if value == "" {
			return
		}
		if out == nil {
			out = make(map[string]any, 3)
		}
		out[name] = value
	}
	add("ip", stringFromContext(ctx, clientIPContextKey{}))
	add("user_agent", stringFromContext(ctx, userAgentContextKey{}))
	add("request_id", stringFromContext(ctx, requestIDContextKey{}))
	return out
}
