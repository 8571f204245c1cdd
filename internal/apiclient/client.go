// Package apiclient talks to the application backend: it exchanges the
// authorization artifact for the client token pair, terminates the backend
// session and calls protected endpoints with the stored access token.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/openkcm/session-portal/internal/config"
	"github.com/openkcm/session-portal/internal/tokenstore"
)

// TokenSource provides the access token attached to outgoing requests.
type TokenSource interface {
	Load(ctx context.Context) (tokenstore.TokenPair, error)
}

type Client struct {
	baseURL  string
	provider string

	validatePath string
	helloPath    string

	exchangeTimeout time.Duration
	logoutTimeout   time.Duration
	validateTimeout time.Duration

	http *http.Client
}

// ExchangeRequest carries exactly one of the authorization artifacts.
type ExchangeRequest struct {
	Code    string `json:"code,omitempty"`
	IDToken string `json:"id_token,omitempty"`
}

type ExchangeResponse struct {
	Access  string         `json:"access"`
	Refresh string         `json:"refresh"`
	User    map[string]any `json:"user,omitempty"`
}

type LogoutResponse struct {
	LogoutURL string `json:"logout_url,omitempty"`
	Message   string `json:"message,omitempty"`
}

type helloResponse struct {
	Message string `json:"message"`
}

// StatusError reports a backend answer outside the 2xx range.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

// Unauthorized reports whether the backend rejected the credentials.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

var ErrMalformedResponse = errors.New("malformed response")

type Option func(*Client)

// WithTransport replaces the base transport below the bearer token round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if bt, ok := c.http.Transport.(*bearerRoundTripper); ok {
			bt.next = rt
		}
	}
}

// New creates a client with its own cookie jar, so the backend session cookie
// is kept between the exchange and the logout call.
func New(cfg config.Backend, tokens TokenSource, opts ...Option) (*Client, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing backend base url: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	c := &Client{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		provider:        cfg.Provider,
		validatePath:    cfg.ValidatePath,
		helloPath:       cfg.HelloPath,
		exchangeTimeout: cfg.ExchangeTimeout,
		logoutTimeout:   cfg.LogoutTimeout,
		validateTimeout: cfg.ValidateTimeout,
		http: &http.Client{
			Jar: jar,
			Transport: &bearerRoundTripper{
				tokens: tokens,
				next:   http.DefaultTransport,
			},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Exchange posts the artifact to the backend callback of the configured
// provider. A response without both tokens is an error.
func (c *Client) Exchange(ctx context.Context, req ExchangeRequest) (ExchangeResponse, error) {
	ctx, cancel := withTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return ExchangeResponse{}, fmt.Errorf("encoding request: %w", err)
	}

	var resp ExchangeResponse
	if err := c.do(ctx, http.MethodPost, "/auth/"+url.PathEscape(c.provider)+"/callback", body, &resp); err != nil {
		return ExchangeResponse{}, err
	}

	if resp.Access == "" || resp.Refresh == "" {
		return ExchangeResponse{}, fmt.Errorf("%w: token pair missing", ErrMalformedResponse)
	}

	return resp, nil
}

// Logout asks the backend to terminate its session. The session cookie from
// the jar is sent along.
func (c *Client) Logout(ctx context.Context) (LogoutResponse, error) {
	ctx, cancel := withTimeout(ctx, c.logoutTimeout)
	defer cancel()

	var resp LogoutResponse
	if err := c.do(ctx, http.MethodGet, "/logout/", nil, &resp); err != nil {
		return LogoutResponse{}, err
	}

	return resp, nil
}

// Validate calls the validation path with the stored access token. A
// rejection is reported as a *StatusError.
func (c *Client) Validate(ctx context.Context) error {
	ctx, cancel := withTimeout(withBearer(ctx), c.validateTimeout)
	defer cancel()

	return c.do(ctx, http.MethodGet, c.validatePath, nil, nil)
}

// Hello returns the greeting of the protected hello endpoint.
func (c *Client) Hello(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(withBearer(ctx), c.validateTimeout)
	defer cancel()

	var resp helloResponse
	if err := c.do(ctx, http.MethodGet, c.helloPath, nil, &resp); err != nil {
		return "", err
	}

	return resp.Message, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, decodeInto any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimPrefix(path, "/"), reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if decodeInto == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(decodeInto); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrMalformedResponse, err)
	}

	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}

type bearerKey struct{}

// withBearer marks the requests made with ctx as carrying the stored access
// token. The exchange and logout calls stay unmarked: the backend rejects an
// expired bearer even on its public endpoints.
func withBearer(ctx context.Context) context.Context {
	return context.WithValue(ctx, bearerKey{}, true)
}

// bearerRoundTripper attaches the stored access token to marked requests
// unless the request already carries an Authorization header.
type bearerRoundTripper struct {
	tokens TokenSource
	next   http.RoundTripper
}

func (t *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	marked, _ := req.Context().Value(bearerKey{}).(bool)
	if !marked || t.tokens == nil || req.Header.Get("Authorization") != "" {
		return t.next.RoundTrip(req)
	}

	pair, err := t.tokens.Load(req.Context())
	if err != nil {
		return t.next.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	return t.next.RoundTrip(req)
}
