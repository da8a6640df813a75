// Package authtest provides a no-op Authenticator for tests and local
// development environments where authentication is not required.
package authtest

import (
	"context"

	"github.com/objectbus/objectbus/auth"
)

// NoAuth is an Authenticator that always succeeds, returning a fixed
// UserID. Use Hook to pass it to broker.WithAuthHook in tests.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a NoAuth authenticator with the given user ID. If
// userID is empty, it defaults to "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

// CheckAuthentication always succeeds.
func (n *NoAuth) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	return noAuthUserInfo{userID: n.UserID}, nil
}

// Hook adapts NoAuth into the func(ctx, token) error shape that
// broker.WithAuthHook expects.
func (n *NoAuth) Hook() func(ctx context.Context, token string) error {
	return auth.JWTHook(n)
}

type noAuthUserInfo struct {
	userID string
}

func (n noAuthUserInfo) UserID() string { return n.userID }

func (n noAuthUserInfo) Claims(ref any) error { return nil }
