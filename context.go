package authcore

import "context"

// client describes the caller behind a request. The Engine stamps it on sessions and
// audit events and keys the lockout counters by its IP.
type client struct {
	IP        string
	UserAgent string
}

type clientKey struct{}

// WithClient attaches the caller's IP address and User-Agent to ctx.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, client{IP: ip, UserAgent: userAgent})
}

// WithClientIP attaches the caller's IP address to ctx, keeping any User-Agent already set.
func WithClientIP(ctx context.Context, ip string) context.Context {
	c := clientFrom(ctx)
	return WithClient(ctx, ip, c.UserAgent)
}

// WithUserAgent attaches the User-Agent to ctx, keeping any IP already set.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	c := clientFrom(ctx)
	return WithClient(ctx, c.IP, userAgent)
}

// ClientIP returns the IP attached to ctx, or "".
func ClientIP(ctx context.Context) string {
	return clientFrom(ctx).IP
}

func clientFrom(ctx context.Context) client {
	if ctx == nil {
		return client{}
	}
	c, _ := ctx.Value(clientKey{}).(client)
	return c
}
