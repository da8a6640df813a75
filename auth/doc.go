// Package auth provides pluggable bearer-token (JWT) authentication for
// objectbus, for callers that delegate authorization to an external
// OAuth 2.0 / OIDC authorization server.
//
// The public surface stays small: an Authenticator validates an incoming
// bearer token string and returns a UserInfo (or an error). JWTHook adapts
// one into broker.AuthHook, so a client's first FunctionAuthenticate frame
// on the wire (spec.md §1) gates every later frame on that connection.
//
// # Access Token Authentication
//
// NewFromDiscovery constructs an Authenticator that validates RFC 9068
// access tokens using OpenID Connect discovery to obtain the issuer's JWKS
// and metadata. NewStaticJWKS checks signature, issuer, audience, expiry
// and subject against a fixed JWKS URI, skipping discovery; it does not
// check the at+jwt typ header or scopes. Both take functional options
// (leeway, allowed algorithms, additional audiences); the scope options
// take effect only for NewFromDiscovery.
//
// Example:
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "objectbus-prod",
//	    auth.WithRequiredScopes("objectbus:connect"),
//	)
//	if err != nil { log.Fatal(err) }
//	b := broker.New(server, directoryClient, broker.WithAuthHook(auth.JWTHook(authn)))
//
// # Scopes
//
// WithRequiredScopes enforces that all provided scopes are present in the
// token's space-delimited scope claim; WithAnyRequiredScope relaxes this so
// at least one matches.
//
// # Algorithms & Clock Skew
//
// By default only RS256 is accepted. Use WithAllowedAlgs to broaden the set.
// WithLeeway adds tolerance for clock skew when validating exp/iat/nbf.
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, audience,
// etc.). ErrInsufficientScope signals successful authentication but missing
// required scope(s).
package auth
