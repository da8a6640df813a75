package auth

import (
	"context"
	"errors"
	"time"

	"github.com/objectbus/objectbus/internal/jwtauth"
)

// DiscoveryOption configures an Authenticator built by NewFromDiscovery or
// NewStaticJWKS.
type DiscoveryOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) DiscoveryOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = false
	}
}

// WithAnyRequiredScope requires at least one of the provided scopes to be present.
func WithAnyRequiredScope(scopes ...string) DiscoveryOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = true
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) DiscoveryOption {
	return func(c *jwtauth.Config) { c.AllowedAlgs = append([]string(nil), algs...) }
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) DiscoveryOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAdditionalAudiences accepts extra audiences besides the primary one
// passed to NewFromDiscovery, for environments that serve more than one
// public endpoint for the same broker.
func WithAdditionalAudiences(audiences ...string) DiscoveryOption {
	return func(c *jwtauth.Config) {
		c.ExpectedAudiences = append(c.ExpectedAudiences, audiences...)
	}
}

// NewFromDiscovery returns an Authenticator that verifies RFC 9068 JWT
// access tokens discovered via OpenID Connect discovery (jwks_uri, issuer,
// etc.), per spec.md §4.3's note that authentication may defer to an OIDC
// authorization server.
func NewFromDiscovery(ctx context.Context, issuer, audience string, opts ...DiscoveryOption) (Authenticator, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{audience}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.ExpectedAudiences) == 0 || cfg.ExpectedAudiences[0] == "" {
		return nil, errors.New("auth: audience is required")
	}
	internal, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal}, nil
}

// NewStaticJWKS returns an Authenticator that verifies JWT access tokens
// against a fixed JWKS URI without OIDC discovery. It checks signature,
// issuer, audience, expiry and subject; it checks neither scopes nor the
// at+jwt typ header, so WithRequiredScopes and WithAnyRequiredScope have no
// effect here.
func NewStaticJWKS(ctx context.Context, issuer, jwksURI string, audiences []string, opts ...DiscoveryOption) (Authenticator, error) {
	cfg := &jwtauth.Config{Issuer: issuer, ExpectedAudiences: audiences, AllowedAlgs: []string{"RS256"}, Leeway: 60 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}
	internal, err := jwtauth.NewStatic(ctx, &jwtauth.StaticConfig{
		Issuer:            cfg.Issuer,
		ExpectedAudiences: cfg.ExpectedAudiences,
		AllowedAlgs:       cfg.AllowedAlgs,
		Leeway:            cfg.Leeway,
	}, jwksURI)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal}, nil
}

// OIDCHook builds an Authenticator via NewFromDiscovery and adapts it with
// JWTHook in one step, for the common case of a broker that authenticates
// purely against an OIDC authorization server's discovery document and
// never needs the UserInfo directly.
func OIDCHook(ctx context.Context, issuer, audience string, opts ...DiscoveryOption) (func(ctx context.Context, token string) error, error) {
	authn, err := NewFromDiscovery(ctx, issuer, audience, opts...)
	if err != nil {
		return nil, err
	}
	return JWTHook(authn), nil
}

// adapter wraps the internal, generic jwtauth.Authenticator to satisfy the
// public Authenticator interface, mapping its sentinel errors onto this
// package's.
type adapter struct {
	a jwtauth.Authenticator
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := ad.a.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return userInfoAdapter{ui: ui}, nil
}

type userInfoAdapter struct{ ui jwtauth.UserInfo }

func (u userInfoAdapter) UserID() string       { return u.ui.UserID() }
func (u userInfoAdapter) Claims(ref any) error { return u.ui.Claims(ref) }
