// Package auth provides pluggable bearer-token authentication for the
// session broker's control channel (spec.md §1's "authentication flow,
// noted as a pluggable hook") and for the admin HTTP surface in
// internal/adminhttp. The public surface stays small: an Authenticator
// validates a token string and returns a UserInfo or an error; JWTHook
// adapts one into the shape broker.WithAuthHook expects, and OIDCHook
// composes that adaptation with OIDC discovery in one call.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshalls the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// JWTHook adapts an Authenticator into the func(ctx, token) error shape
// broker.WithAuthHook accepts. The broker only needs pass/fail; UserInfo is
// discarded here -- callers that need the identity should call the
// Authenticator directly from their own service methods instead.
func JWTHook(authn Authenticator) func(ctx context.Context, token string) error {
	return func(ctx context.Context, token string) error {
		_, err := authn.CheckAuthentication(ctx, token)
		return err
	}
}
