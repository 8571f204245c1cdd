// Package identity builds the redirect to the third-party identity provider
// that hosts the login UI.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/patrickmn/go-cache"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/config"
)

var ErrNoAuthorizationEndpoint = errors.New("no authorization endpoint configured or discovered")

type Provider struct {
	clientID        string
	issuer          string
	authEndpoint    string
	redirectURI     string
	scopes          []string
	authorizeParams map[string]string

	discoveryTTL time.Duration
	cache        *cache.Cache
	httpClient   *http.Client
	state        StateSource
}

type ProviderOption func(*Provider)

func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.httpClient = c }
}

func WithStateSource(s StateSource) ProviderOption {
	return func(p *Provider) { p.state = s }
}

// NewProvider loads the client id and prepares the provider. Discovery is
// deferred to the first sign in.
func NewProvider(cfg config.Identity, opts ...ProviderOption) (*Provider, error) {
	clientID, err := commoncfg.LoadValueFromSourceRef(cfg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("loading client id: %w", err)
	}

	if len(clientID) == 0 {
		return nil, errors.New("client id is empty")
	}

	if cfg.AuthorizationEndpoint == "" && cfg.Issuer == "" {
		return nil, ErrNoAuthorizationEndpoint
	}

	p := &Provider{
		clientID:        string(clientID),
		issuer:          strings.TrimSuffix(cfg.Issuer, "/"),
		authEndpoint:    cfg.AuthorizationEndpoint,
		redirectURI:     cfg.RedirectURI,
		scopes:          cfg.Scopes,
		authorizeParams: cfg.AuthorizeParams,
		discoveryTTL:    cfg.DiscoveryCacheTTL,
		cache:           cache.New(cfg.DiscoveryCacheTTL, 2*cfg.DiscoveryCacheTTL),
		httpClient:      http.DefaultClient,
		state:           randomSource{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

// AuthCodeURL returns the authorize URL for a new sign in: client id,
// redirect URI, scopes, response_type=code and a fresh state, which is also
// returned so the caller can check it on the callback.
func (p *Provider) AuthCodeURL(ctx context.Context) (authURL, state string, err error) {
	endpoint, err := p.authorizationEndpoint(ctx)
	if err != nil {
		return "", "", err
	}

	conf := oauth2.Config{
		ClientID:    p.clientID,
		RedirectURL: p.redirectURI,
		Scopes:      p.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL: endpoint,
		},
	}

	opts := make([]oauth2.AuthCodeOption, 0, len(p.authorizeParams))
	for k, v := range p.authorizeParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	state = p.state.State()

	return conf.AuthCodeURL(state, opts...), state, nil
}

func (p *Provider) authorizationEndpoint(ctx context.Context) (string, error) {
	if p.authEndpoint != "" {
		return p.authEndpoint, nil
	}

	discovery, err := p.discover(ctx)
	if err != nil {
		return "", fmt.Errorf("discovering provider configuration: %w", err)
	}

	if discovery.AuthorizationEndpoint == "" {
		return "", ErrNoAuthorizationEndpoint
	}

	return discovery.AuthorizationEndpoint, nil
}

func (p *Provider) discover(ctx context.Context) (*oidc.DiscoveryConfiguration, error) {
	const cacheKey = "discovery"

	if cached, ok := p.cache.Get(cacheKey); ok {
		//nolint:forcetypeassert
		return cached.(*oidc.DiscoveryConfiguration), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.issuer+oidc.DiscoveryEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery failed with status: %d", resp.StatusCode)
	}

	var discovery oidc.DiscoveryConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	slogctx.Debug(ctx, "Discovered provider configuration", "issuer", discovery.Issuer)
	p.cache.Set(cacheKey, &discovery, p.discoveryTTL)

	return &discovery, nil
}
