package session_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-portal/internal/apiclient"
	"github.com/openkcm/session-portal/internal/config"
	"github.com/openkcm/session-portal/internal/session"
	"github.com/openkcm/session-portal/internal/tokenstore/tokenstoremock"
)

const (
	authorizeURL = "https://idp.example.com/authorize?client_id=client_123&response_type=code&state=" + issuedState
	issuedState  = "s"
	browserFP    = "fp-browser"
)

var errTransport = errors.New("connection refused")

// fakeAPI records calls and answers with the configured functions.
type fakeAPI struct {
	mu            sync.Mutex
	exchangeCalls []apiclient.ExchangeRequest
	logoutCalls   int
	validateCalls int

	exchange func(ctx context.Context, req apiclient.ExchangeRequest) (apiclient.ExchangeResponse, error)
	logout   func(ctx context.Context) (apiclient.LogoutResponse, error)
	validate func(ctx context.Context) error
}

func (f *fakeAPI) Exchange(ctx context.Context, req apiclient.ExchangeRequest) (apiclient.ExchangeResponse, error) {
	f.mu.Lock()
	f.exchangeCalls = append(f.exchangeCalls, req)
	fn := f.exchange
	f.mu.Unlock()

	if fn == nil {
		return apiclient.ExchangeResponse{Access: "A", Refresh: "R", User: map[string]any{"email": "u@example.com"}}, nil
	}

	return fn(ctx, req)
}

func (f *fakeAPI) Logout(ctx context.Context) (apiclient.LogoutResponse, error) {
	f.mu.Lock()
	f.logoutCalls++
	fn := f.logout
	f.mu.Unlock()

	if fn == nil {
		return apiclient.LogoutResponse{LogoutURL: "/login", Message: "No active session found"}, nil
	}

	return fn(ctx)
}

func (f *fakeAPI) Validate(ctx context.Context) error {
	f.mu.Lock()
	f.validateCalls++
	fn := f.validate
	f.mu.Unlock()

	if fn == nil {
		return nil
	}

	return fn(ctx)
}

func (f *fakeAPI) Exchanges() []apiclient.ExchangeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]apiclient.ExchangeRequest(nil), f.exchangeCalls...)
}

type fakeProvider struct {
	url string
	err error
}

func (p fakeProvider) AuthCodeURL(context.Context) (string, string, error) {
	if p.err != nil {
		return "", "", p.err
	}

	return p.url, issuedState, nil
}

var backendCfg = config.Backend{ValidatePath: "/hello"}

var portalCfg = config.Portal{
	CallbackSuccessDelay: time.Second,
	CallbackFailureDelay: 2 * time.Second,
	ConsumedArtifactTTL:  10 * time.Minute,
}

func newController(store *tokenstoremock.Store, api *fakeAPI) *session.Controller {
	return session.NewController(backendCfg, store, api, fakeProvider{url: authorizeURL})
}

// startSignIn signs in from browserFP and returns a callback query carrying
// the issued state plus the given artifact parameters.
func startSignIn(t *testing.T, ctrl *session.Controller, artifact url.Values) url.Values {
	t.Helper()

	ctrl.SignIn(t.Context(), browserFP)

	q := url.Values{"state": {issuedState}}
	for k, v := range artifact {
		q[k] = v
	}

	return q
}

// signedToken returns an HS256 access token expiring at exp with extra claims.
func signedToken(t *testing.T, exp time.Time, extra map[string]any) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")}, nil)
	require.NoError(t, err)

	builder := jwt.Signed(signer).
		Claims(jwt.Claims{Expiry: jwt.NewNumericDate(exp), IssuedAt: jwt.NewNumericDate(exp.Add(-time.Hour))})
	if len(extra) > 0 {
		builder = builder.Claims(extra)
	}

	token, err := builder.Serialize()
	require.NoError(t, err)

	return token
}
