// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Identity   Identity   `yaml:"identity"`
	Backend    Backend    `yaml:"backend"`
	Portal     Portal     `yaml:"portal"`
	TokenStore TokenStore `yaml:"tokenStore"`

	Database Database `yaml:"database"`
	ValKey   ValKey   `yaml:"valkey"`
	SQLite   SQLite   `yaml:"sqlite"`
}

type HTTPServer struct {
	// Address must be a loopback address unless AllowRemote is set. The
	// network://address form, e.g. unix:///run/portal.sock, is also accepted.
	Address string `yaml:"address" default:"localhost:3000"`
	// AllowRemote lets the portal listen on addresses other hosts can reach.
	// Every client reaching the portal shares the stored session.
	AllowRemote     bool          `yaml:"allowRemote"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

// Identity describes the third-party identity provider hosting the login UI.
type Identity struct {
	// Issuer is used to discover the authorization endpoint when
	// AuthorizationEndpoint is empty.
	Issuer                string              `yaml:"issuer"`
	AuthorizationEndpoint string              `yaml:"authorizationEndpoint"`
	ClientID              commoncfg.SourceRef `yaml:"clientID"`
	// RedirectURI must exactly match a value registered with the provider.
	RedirectURI string   `yaml:"redirectURI" default:"http://localhost:3000/auth/callback"`
	Scopes      []string `yaml:"scopes"`
	// AuthorizeParams are appended to the authorize URL, e.g. provider=authkit.
	AuthorizeParams   map[string]string `yaml:"authorizeParams"`
	DiscoveryCacheTTL time.Duration     `yaml:"discoveryCacheTTL" default:"1h"`
}

// Backend is the application backend that exchanges authorization artifacts
// for the client token pair and terminates the server-side session.
type Backend struct {
	BaseURL  string `yaml:"baseURL" default:"http://localhost:8000/api"`
	Provider string `yaml:"provider" default:"workos"`
	// ValidatePath is called with the stored access token at startup.
	// Leave empty to admit a restored session on local checks only.
	ValidatePath    string        `yaml:"validatePath" default:"/hello"`
	HelloPath       string        `yaml:"helloPath" default:"/hello"`
	ExchangeTimeout time.Duration `yaml:"exchangeTimeout" default:"10s"`
	LogoutTimeout   time.Duration `yaml:"logoutTimeout" default:"5s"`
	ValidateTimeout time.Duration `yaml:"validateTimeout" default:"5s"`
}

type Portal struct {
	CSRFSecret           commoncfg.SourceRef `yaml:"csrfSecret"`
	CSRFCookie           CookieTemplate      `yaml:"csrfCookie"`
	CallbackSuccessDelay time.Duration       `yaml:"callbackSuccessDelay" default:"1s"`
	CallbackFailureDelay time.Duration       `yaml:"callbackFailureDelay" default:"2s"`
	ConsumedArtifactTTL  time.Duration       `yaml:"consumedArtifactTTL" default:"10m"`
}

type TokenStoreDriver string

const (
	TokenStoreMemory   TokenStoreDriver = "memory"
	TokenStoreSQLite   TokenStoreDriver = "sqlite"
	TokenStorePostgres TokenStoreDriver = "postgres"
	TokenStoreValKey   TokenStoreDriver = "valkey"
)

type TokenStore struct {
	Driver TokenStoreDriver `yaml:"driver" default:"sqlite"`
	// Profile scopes the stored entries, like a browser profile scopes local storage.
	Profile string `yaml:"profile" default:"default"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	SSLMode  string              `yaml:"sslMode"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"session-portal"`
	// SecretRef of type mtls enables a TLS connection with client certificates.
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type SQLite struct {
	Path string `yaml:"path" default:"session-portal.db"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name" default:"portal_csrf"`
	MaxAge   int            `yaml:"maxAge"`
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure"`
	SameSite CookieSameSite `yaml:"sameSite" default:"Strict"`
	HTTPOnly bool           `yaml:"httpOnly" default:"true"`
}
