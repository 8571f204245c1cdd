package session

import (
	"net/url"
	"time"

	"github.com/openkcm/session-portal/internal/apiclient"
	"github.com/openkcm/session-portal/internal/serviceerr"
)

// Portal paths the lifecycle navigates between.
const (
	HomePath     = "/"
	LoginPath    = "/login"
	CallbackPath = "/auth/callback"
)

type Status int

const (
	StatusUnauthenticated Status = iota
	StatusPending
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusPending:
		return "pending"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Session is a snapshot of the lifecycle state.
type Session struct {
	Status Status
	// User is only set while Authenticated.
	User      map[string]any
	LastError *serviceerr.Error
}

// Artifact is what the identity provider hands back on the callback route.
type Artifact struct {
	Code    string
	IDToken string
	// State echoes the value issued by SignIn.
	State string
}

// ArtifactFromQuery reads the code, the id_token fallback and the state from
// a callback query.
func ArtifactFromQuery(q url.Values) Artifact {
	return Artifact{
		Code:    q.Get("code"),
		IDToken: q.Get("id_token"),
		State:   q.Get("state"),
	}
}

func (a Artifact) Empty() bool {
	return a.Code == "" && a.IDToken == ""
}

// key identifies the artifact for the one-shot guard. The code wins when both are set.
func (a Artifact) key() string {
	if a.Code != "" {
		return "code:" + a.Code
	}

	return "id_token:" + a.IDToken
}

func (a Artifact) request() apiclient.ExchangeRequest {
	if a.Code != "" {
		return apiclient.ExchangeRequest{Code: a.Code}
	}

	return apiclient.ExchangeRequest{IDToken: a.IDToken}
}

// Navigation is a decision about where the browser goes next. It is handed
// to the presentation layer and never stored.
type Navigation struct {
	Target string
	// Status is an optional message shown while the browser waits for Delay.
	Status string
	Delay  time.Duration
}

// LoginWithError returns the login path carrying the error marker of err.
func LoginWithError(err *serviceerr.Error) string {
	return LoginPath + "?" + url.Values{"error": {err.LoginErrorParam()}}.Encode()
}
