package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/config"
	"github.com/openkcm/session-portal/internal/middleware/guard"
	"github.com/openkcm/session-portal/internal/serviceerr"
	"github.com/openkcm/session-portal/internal/session"
	"github.com/openkcm/session-portal/pkg/csrf"
	"github.com/openkcm/session-portal/pkg/fingerprint"
)

const (
	LoginStartPath = "/login/start"
	LogoutPath     = "/logout"
	PingPath       = "/ping"

	csrfField = "csrf_token"
)

// Lifecycle is the part of the session controller the portal drives.
type Lifecycle interface {
	guard.SessionSource
	SignIn(ctx context.Context, fingerprint string) session.Navigation
	SignOut(ctx context.Context) session.Navigation
}

// Greeter calls the protected hello endpoint of the backend.
type Greeter interface {
	Hello(ctx context.Context) (string, error)
}

type Portal struct {
	lifecycle  Lifecycle
	callback   *session.CallbackHandler
	greeter    Greeter
	csrfKey    []byte
	csrfCookie config.CookieTemplate
}

func NewPortal(lifecycle Lifecycle, callback *session.CallbackHandler, greeter Greeter, csrfKey []byte, csrfCookie config.CookieTemplate) (*Portal, error) {
	if err := csrf.CheckKey(csrfKey); err != nil {
		return nil, err
	}

	return &Portal{
		lifecycle:  lifecycle,
		callback:   callback,
		greeter:    greeter,
		csrfKey:    csrfKey,
		csrfCookie: csrfCookie,
	}, nil
}

// RegisterRoutes mounts the lifecycle routes. Only the dashboard is guarded.
func (p *Portal) RegisterRoutes(r *mux.Router) {
	r.Use(fingerprint.Middleware)

	r.HandleFunc(PingPath, p.ping).Methods(http.MethodGet).Name("ping")
	r.HandleFunc(session.LoginPath, p.login).Methods(http.MethodGet).Name("login")
	r.HandleFunc(LoginStartPath, p.loginStart).Methods(http.MethodGet).Name("loginStart")
	r.HandleFunc(session.CallbackPath, p.authCallback).Methods(http.MethodGet).Name("authCallback")
	r.HandleFunc(LogoutPath, p.logout).Methods(http.MethodPost).Name("logout")

	r.Handle(session.HomePath, guard.RequireSession(p.lifecycle, session.LoginPath)(http.HandlerFunc(p.dashboard))).
		Methods(http.MethodGet).
		Name("dashboard")
}

func (p *Portal) ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"result":"ping"}`))
}

func (p *Portal) login(w http.ResponseWriter, r *http.Request) {
	data := loginPage{
		page:      page{Title: "Login"},
		StartPath: LoginStartPath,
	}

	switch r.URL.Query().Get("error") {
	case serviceerr.LoginErrorNoCode:
		data.Error = session.MessageNoArtifact
	case serviceerr.LoginErrorAuthFailed:
		data.Error = "Authentication failed. Please try again."
	}

	p.render(w, r, http.StatusOK, "login.html", data)
}

func (p *Portal) loginStart(w http.ResponseWriter, r *http.Request) {
	nav := p.lifecycle.SignIn(r.Context(), requestFingerprint(r.Context()))
	http.Redirect(w, r, nav.Target, http.StatusFound)
}

func (p *Portal) authCallback(w http.ResponseWriter, r *http.Request) {
	nav := p.callback.Handle(r.Context(), r.URL.Query(), requestFingerprint(r.Context()))
	p.navigate(w, r, nav)
}

func (p *Portal) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, err := guard.SessionFromContext(ctx)
	if err != nil {
		slogctx.Error(ctx, "Dashboard reached without an admitted session", "error", err)
		http.Redirect(w, r, session.LoginPath, http.StatusSeeOther)

		return
	}

	message, err := p.greeter.Hello(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Failed to call the hello endpoint", "error", err)
		message = "Error: " + err.Error()
	}

	binding, token := csrf.Issue(p.csrfKey, requestFingerprint(ctx))
	http.SetCookie(w, p.csrfCookie.ToCookie(binding))

	p.render(w, r, http.StatusOK, "dashboard.html", dashboardPage{
		page:       page{Title: "Dashboard"},
		User:       s.User,
		Message:    message,
		LogoutPath: LogoutPath,
		CSRFField:  csrfField,
		CSRFToken:  token,
	})
}

func (p *Portal) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie(p.csrfCookie.Name)
	if err != nil || !csrf.Validate(r.PostFormValue(csrfField), csrf.Bind(cookie.Value, requestFingerprint(ctx)), p.csrfKey) {
		slogctx.Warn(ctx, "Rejected logout with an invalid csrf token")
		p.renderError(w, r, serviceerr.ErrInvalidCSRFToken)

		return
	}

	nav := p.lifecycle.SignOut(ctx)

	http.SetCookie(w, p.csrfCookie.ToExpiredCookie())
	http.Redirect(w, r, nav.Target, http.StatusSeeOther)
}

func requestFingerprint(ctx context.Context) string {
	fp, err := fingerprint.FromContext(ctx)
	if err != nil {
		slogctx.Warn(ctx, "Request has no fingerprint", "error", err)
	}

	return fp
}

// navigate renders a waiting page for delayed navigations and redirects otherwise.
func (p *Portal) navigate(w http.ResponseWriter, r *http.Request, nav session.Navigation) {
	if nav.Delay <= 0 {
		http.Redirect(w, r, nav.Target, http.StatusSeeOther)
		return
	}

	refresh := strconv.FormatFloat(nav.Delay.Seconds(), 'f', -1, 64) + ";url=" + nav.Target

	p.render(w, r, http.StatusOK, "callback.html", callbackPage{
		page:   page{Title: "Authentication", Refresh: refresh},
		Status: nav.Status,
		Target: nav.Target,
	})
}

func (p *Portal) renderError(w http.ResponseWriter, r *http.Request, err *serviceerr.Error) {
	p.render(w, r, err.HTTPStatus(), "login.html", loginPage{
		page:      page{Title: "Error"},
		Error:     err.Description,
		StartPath: LoginStartPath,
	})
}

func (p *Portal) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		slogctx.Error(r.Context(), "Failed to render a page", "template", name, "error", err)
	}
}
