// Package guard admits requests to protected views only while the session
// is Authenticated and injects the admitted session into the context.
package guard

import (
	"context"
	"errors"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/session"
)

// Using an unexported type prevents key collisions from other packages.
type contextKey string

// SessionKey is the context key of the admitted session snapshot.
const SessionKey contextKey = "session"

// SessionSource reports the current session state.
type SessionSource interface {
	Session() session.Session
}

// Admit is true only for Authenticated sessions. A Pending session is not admitted.
func Admit(status session.Status) bool {
	return status == session.StatusAuthenticated
}

// RequireSession redirects to loginPath with 303 See Other unless the session
// is admitted.
func RequireSession(src SessionSource, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := src.Session()
			if !Admit(s.Status) {
				slogctx.Debug(r.Context(), "Session not admitted", "status", s.Status, "path", r.URL.Path)
				http.Redirect(w, r, loginPath, http.StatusSeeOther)

				return
			}

			ctx := context.WithValue(r.Context(), SessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext retrieves the session admitted by RequireSession.
func SessionFromContext(ctx context.Context) (session.Session, error) {
	s, ok := ctx.Value(SessionKey).(session.Session)
	if !ok {
		return session.Session{}, errors.New("session not found in context")
	}

	return s, nil
}
