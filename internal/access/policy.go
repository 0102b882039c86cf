// internal/access/policy.go
package access

import (
	"context"
	"crypto/subtle"

	custom_errors "github.com/LuminolMC/StarFall/internal/errors"
)

// Identity is a caller that has already been authenticated by the transport.
type Identity struct {
	Principal string
}

// Policy decides whether mutating operations need an identity. It is applied
// the same way to every mutation.
type Policy struct {
	RequireIdentity bool
}

// Authorize returns ErrUnauthorized when the policy requires an identity and
// caller is nil.
func (p Policy) Authorize(caller *Identity) error {
	if p.RequireIdentity && caller == nil {
		return custom_errors.ErrUnauthorized
	}
	return nil
}

// Service is the identity used by in-process writers such as the importer.
var Service = &Identity{Principal: "StarFall"}

// BearerAuthenticator resolves a bearer token to an identity by comparing it
// with the single configured token.
type BearerAuthenticator struct {
	token []byte
}

// NewBearerAuthenticator returns an authenticator for token. An empty token
// never authenticates anyone.
func NewBearerAuthenticator(token string) *BearerAuthenticator {
	return &BearerAuthenticator{token: []byte(token)}
}

// Authenticate returns the identity for presented, or nil if it does not match.
func (a *BearerAuthenticator) Authenticate(presented string) *Identity {
	if len(a.token) == 0 || presented == "" {
		return nil
	}
	if subtle.ConstantTimeCompare(a.token, []byte(presented)) != 1 {
		return nil
	}
	return &Identity{Principal: Service.Principal}
}

type identityKey struct{}

// WithIdentity stores caller in ctx.
func WithIdentity(ctx context.Context, caller *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, caller)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) *Identity {
	caller, _ := ctx.Value(identityKey{}).(*Identity)
	return caller
}
