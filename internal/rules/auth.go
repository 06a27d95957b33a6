package rules

import "context"

// ServiceUID identifies internal callers such as schedulers and side-effect handlers.
const ServiceUID = "system"

// Auth is the identity a document operation runs as.
type Auth struct {
	UID     string
	Role    string
	Service bool
}

// IsAdmin is true for admin users and for the internal service identity.
func (a *Auth) IsAdmin() bool {
	return a != nil && (a.Service || a.Role == "admin")
}

type authKey struct{}

// WithAuth attaches an identity to ctx.
func WithAuth(ctx context.Context, a *Auth) context.Context {
	return context.WithValue(ctx, authKey{}, a)
}

// FromContext returns the identity on ctx, or nil for anonymous callers.
func FromContext(ctx context.Context) *Auth {
	a, _ := ctx.Value(authKey{}).(*Auth)
	return a
}

// ServiceContext runs ctx as the internal service identity.
func ServiceContext(ctx context.Context) context.Context {
	return WithAuth(ctx, &Auth{UID: ServiceUID, Role: "admin", Service: true})
}

// UserContext runs ctx as a regular user.
func UserContext(ctx context.Context, uid, role string) context.Context {
	return WithAuth(ctx, &Auth{UID: uid, Role: role})
}
