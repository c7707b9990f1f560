package auth

import "context"

type principalKey struct{}

// WithPrincipal attaches the request principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom retrieves the request principal. The second return is
// false on unauthenticated paths.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// MustPrincipal returns the principal or panics; only for handlers that
// run strictly behind Authenticate.
func MustPrincipal(ctx context.Context) *Principal {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		panic("auth: handler reached without principal; missing Authenticate middleware")
	}
	return p
}
