// Package adminhttp exposes a small HTTP surface for operating an
// objectbus process: an unauthenticated liveness probe and a status
// endpoint listing locally registered services, bearer-token protected
// when an Authenticator is configured. It is
// grounded on the teacher's streaminghttp.Handler for content negotiation
// (elnormous/contenttype) and on auth/result.go for building RFC 6750
// WWW-Authenticate challenges, which no HTTP surface consumed otherwise.
package adminhttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"

	"github.com/objectbus/objectbus/auth"
	"github.com/objectbus/objectbus/directory"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

// ServiceLister is the subset of session.Session the status endpoint needs.
type ServiceLister interface {
	RegisteredServices() []directory.ServiceInfo
}

// Handler serves objectbus's admin HTTP surface.
type Handler struct {
	log    *slog.Logger
	lister ServiceLister
	authn  auth.Authenticator
	realm  string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithAuthenticator protects the /status endpoint with a bearer token,
// validated the same way the broker's FunctionAuthenticate frames are
// (see auth.JWTHook). Without one, /status is unauthenticated.
func WithAuthenticator(authn auth.Authenticator) Option {
	return func(h *Handler) { h.authn = authn }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
// Default: "objectbus".
func WithRealm(realm string) Option {
	return func(h *Handler) {
		if realm != "" {
			h.realm = realm
		}
	}
}

// New constructs a Handler reporting lister's registered services.
func New(lister ServiceLister, opts ...Option) *Handler {
	h := &Handler{log: slog.Default(), lister: lister, realm: "objectbus"}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz":
		h.handleHealthz(w, r)
	case "/status":
		h.handleStatus(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	Services []directory.ServiceInfo `json:"services"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.authn != nil {
		if result := h.checkAuthentication(ctx, r); result != nil {
			if challenge := result.GetAuthenticationChallenge(); challenge != nil {
				if challenge.WWWAuthenticate != "" {
					w.Header().Set(wwwAuthenticateHeader, challenge.WWWAuthenticate)
				}
				w.WriteHeader(challenge.Status)
				return
			}
		}
	}

	if ctype, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{jsonMediaType}); err != nil || !ctype.Matches(jsonMediaType) {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	resp := statusResponse{Services: h.lister.RegisteredServices()}
	w.Header().Set("Content-Type", jsonMediaType.String())
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "adminhttp.status.encode_failed", slog.String("err", err.Error()))
	}
}

// checkAuthentication validates the Authorization header against h.authn,
// returning a non-nil auth.AuthenticationResult only on failure (success
// falls through with a nil result, mirroring the teacher's
// checkAuthentication helper but built on auth/result.go's challenge
// constructors instead of a hand-rolled header builder).
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request) auth.AuthenticationResult {
	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		return auth.NewAuthenticationRequired("")
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) <= len(bearerPrefix) {
		return auth.NewInvalidAuthorizationHeader(h.realm)
	}

	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" {
		return auth.NewInvalidAuthorizationHeader(h.realm)
	}

	if _, err := h.authn.CheckAuthentication(ctx, tok); err != nil {
		if errors.Is(err, auth.ErrInsufficientScope) {
			return auth.NewInsufficientScopeResult(h.realm, "")
		}
		return auth.NewInvalidTokenResult(h.realm, err.Error())
	}

	return nil
}
