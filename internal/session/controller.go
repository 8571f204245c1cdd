// Package session owns the authentication session lifecycle of the portal:
// Unauthenticated, Pending while an exchange or a startup validation runs,
// and Authenticated once the token pair is persisted.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/apiclient"
	"github.com/openkcm/session-portal/internal/config"
	"github.com/openkcm/session-portal/internal/serviceerr"
	"github.com/openkcm/session-portal/internal/tokenstore"
)

// API is the part of the backend the lifecycle depends on.
type API interface {
	Exchange(ctx context.Context, req apiclient.ExchangeRequest) (apiclient.ExchangeResponse, error)
	Logout(ctx context.Context) (apiclient.LogoutResponse, error)
	Validate(ctx context.Context) error
}

// AuthURLBuilder builds the identity provider redirect for a new sign in
// and returns the state it carries.
type AuthURLBuilder interface {
	AuthCodeURL(ctx context.Context) (authURL, state string, err error)
}

// pendingStateTTL bounds how long a started sign in can be completed.
const pendingStateTTL = 10 * time.Minute

var accessTokenAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.EdDSA,
}

type Controller struct {
	store    tokenstore.Store
	api      API
	provider AuthURLBuilder
	validate bool
	meters   meters
	now      func() time.Time

	// exchangeMu serializes the operations that write the token store.
	exchangeMu sync.Mutex

	// states maps each issued state to the fingerprint of the browser
	// that started the sign in.
	states  *cache.Cache
	stateMu sync.Mutex

	mu      sync.RWMutex
	session Session
}

func NewController(cfg config.Backend, store tokenstore.Store, api API, provider AuthURLBuilder) *Controller {
	return &Controller{
		store:    store,
		api:      api,
		provider: provider,
		validate: cfg.ValidatePath != "",
		meters:   newMeters(context.Background()),
		now:      time.Now,
		states:   cache.New(pendingStateTTL, 2*pendingStateTTL),
		session:  Session{Status: StatusUnauthenticated},
	}
}

// Session returns a snapshot of the current state.
func (c *Controller) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.session
	s.User = maps.Clone(s.User)

	return s
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.session.Status
}

func (c *Controller) set(ctx context.Context, status Status, user map[string]any, lastErr *serviceerr.Error) {
	c.mu.Lock()
	from := c.session.Status
	c.session = Session{Status: status, User: user, LastError: lastErr}
	c.mu.Unlock()

	if from != status {
		slogctx.Debug(ctx, "Session status changed", "from", from, "to", status)
		c.meters.transition(ctx, status)
	}
}

func (c *Controller) recordError(lastErr *serviceerr.Error) {
	c.mu.Lock()
	c.session.LastError = lastErr
	c.mu.Unlock()
}

// Restore decides the startup state from the token store. A stored pair is
// only admitted once the access token passed the local expiry check and, when
// a validation path is configured, the backend accepted it.
func (c *Controller) Restore(ctx context.Context) Session {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	pair, err := c.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			slogctx.Error(ctx, "Failed to load the stored token pair", "error", err)
		}

		c.set(ctx, StatusUnauthenticated, nil, nil)
		return c.Session()
	}

	c.set(ctx, StatusPending, nil, nil)

	claims, expired := c.inspect(pair.AccessToken)
	if expired {
		slogctx.Info(ctx, "Stored access token has expired")
		c.store.Clear(ctx)
		c.set(ctx, StatusUnauthenticated, nil, nil)

		return c.Session()
	}

	if c.validate {
		if err := c.api.Validate(ctx); err != nil {
			var statusErr *apiclient.StatusError
			if errors.As(err, &statusErr) && statusErr.Unauthorized() {
				slogctx.Info(ctx, "Backend rejected the stored access token", "status", statusErr.StatusCode)
				c.store.Clear(ctx)
				c.set(ctx, StatusUnauthenticated, nil, nil)

				return c.Session()
			}

			slogctx.Warn(ctx, "Failed to validate the stored session", "error", err)
			c.set(ctx, StatusUnauthenticated, nil, serviceerr.ErrValidationFailed)

			return c.Session()
		}
	}

	c.set(ctx, StatusAuthenticated, claims, nil)
	slogctx.Info(ctx, "Restored the stored session")

	return c.Session()
}

// inspect reads the claims of a JWT access token without verifying it. Opaque
// tokens yield no claims and are never reported as expired.
func (c *Controller) inspect(accessToken string) (map[string]any, bool) {
	token, err := jwt.ParseSigned(accessToken, accessTokenAlgorithms)
	if err != nil {
		return nil, false
	}

	var standard jwt.Claims
	var claims map[string]any
	if err := token.UnsafeClaimsWithoutVerification(&standard, &claims); err != nil {
		return nil, false
	}

	if standard.Expiry != nil && !standard.Expiry.Time().After(c.now()) {
		return nil, true
	}

	return claims, false
}

// SignIn returns the navigation to the identity provider and records the
// issued state for the browser identified by fingerprint. It never changes
// the status; when the redirect cannot be built the user stays on the login
// view with an error marker.
func (c *Controller) SignIn(ctx context.Context, fingerprint string) Navigation {
	target, state, err := c.provider.AuthCodeURL(ctx)
	if err != nil {
		slogctx.Error(ctx, "Failed to build the authorize URL", "error", err)
		return Navigation{Target: LoginWithError(serviceerr.ErrExchangeFailed)}
	}

	c.states.Set(state, fingerprint, cache.DefaultExpiration)
	slogctx.Info(ctx, "Redirecting to the identity provider")

	return Navigation{Target: target}
}

// consumeState checks that state was issued by SignIn to the browser
// identified by fingerprint. A state is accepted at most once.
func (c *Controller) consumeState(state, fingerprint string) error {
	if state == "" {
		return serviceerr.ErrInvalidState
	}

	c.stateMu.Lock()
	issuedTo, found := c.states.Get(state)
	c.states.Delete(state)
	c.stateMu.Unlock()

	if !found {
		return serviceerr.ErrInvalidState
	}

	if issuedTo != fingerprint {
		return serviceerr.ErrFingerprintMismatch
	}

	return nil
}

// CompleteExchange trades the artifact for the token pair. The pair is
// persisted before the session becomes Authenticated. On any failure nothing
// is persisted and the returned error matches serviceerr.ErrMissingArtifact
// or serviceerr.ErrExchangeFailed.
func (c *Controller) CompleteExchange(ctx context.Context, artifact Artifact) (Navigation, error) {
	if artifact.Empty() {
		slogctx.Warn(ctx, "No authorization artifact received")
		c.set(ctx, StatusUnauthenticated, nil, serviceerr.ErrMissingArtifact)

		return Navigation{Target: LoginWithError(serviceerr.ErrMissingArtifact)}, serviceerr.ErrMissingArtifact
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	c.set(ctx, StatusPending, nil, nil)

	resp, err := c.api.Exchange(ctx, artifact.request())
	if err != nil {
		return c.failExchange(ctx, fmt.Errorf("exchanging artifact: %w", err))
	}

	if err := c.store.Save(ctx, tokenstore.TokenPair{AccessToken: resp.Access, RefreshToken: resp.Refresh}); err != nil {
		return c.failExchange(ctx, fmt.Errorf("saving token pair: %w", err))
	}

	c.set(ctx, StatusAuthenticated, resp.User, nil)
	c.meters.exchange(ctx, "success")
	slogctx.Info(ctx, "Exchanged the authorization artifact for tokens")

	return Navigation{Target: HomePath}, nil
}

func (c *Controller) failExchange(ctx context.Context, err error) (Navigation, error) {
	slogctx.Error(ctx, "Authorization exchange failed", "error", err)
	c.set(ctx, StatusUnauthenticated, nil, serviceerr.ErrExchangeFailed)
	c.meters.exchange(ctx, "failure")

	return Navigation{Target: LoginWithError(serviceerr.ErrExchangeFailed)}, fmt.Errorf("%w: %w", serviceerr.ErrExchangeFailed, err)
}

// SignOut clears the token store before asking the backend to end its
// session, then navigates to the backend's logout URL or the login view.
// It is safe to call in any state.
func (c *Controller) SignOut(ctx context.Context) Navigation {
	c.exchangeMu.Lock()
	c.store.Clear(ctx)
	c.set(ctx, StatusUnauthenticated, nil, nil)
	c.exchangeMu.Unlock()

	resp, err := c.api.Logout(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Backend logout failed", "error", err)
		c.recordError(serviceerr.ErrLogoutTransportFailed)

		return Navigation{Target: LoginPath}
	}

	target, ok := usableLogoutURL(resp.LogoutURL)
	if !ok {
		if resp.LogoutURL != "" {
			slogctx.Warn(ctx, "Ignoring unusable logout url", "logoutURL", resp.LogoutURL)
		}

		return Navigation{Target: LoginPath}
	}

	slogctx.Info(ctx, "Signed out")

	return Navigation{Target: target}
}

// usableLogoutURL accepts absolute http(s) URLs and local absolute paths.
func usableLogoutURL(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		if u.Host == "" {
			return "", false
		}
	case u.Scheme == "" && u.Host == "":
		if !strings.HasPrefix(u.Path, "/") || strings.ContainsRune(raw, '\\') {
			return "", false
		}
	default:
		return "", false
	}

	return u.String(), true
}
