package session

import (
	"context"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/config"
	"github.com/openkcm/session-portal/internal/serviceerr"
)

// Messages shown on the callback page while the browser waits to be redirected.
const (
	MessageProcessing     = "Processing..."
	MessageNoArtifact     = "No authentication code received"
	MessageSuccess        = "Login successful! Redirecting..."
	MessageFailure        = "Authentication failed. Redirecting to login..."
	MessageAlreadyHandled = "This sign in was already processed. Redirecting..."
)

// CallbackHandler processes the identity provider's return to the portal.
// Each artifact is exchanged at most once.
type CallbackHandler struct {
	ctrl     *Controller
	consumed *cache.Cache

	successDelay time.Duration
	failureDelay time.Duration
	consumedTTL  time.Duration
}

func NewCallbackHandler(ctrl *Controller, cfg config.Portal) *CallbackHandler {
	return &CallbackHandler{
		ctrl:         ctrl,
		consumed:     cache.New(cfg.ConsumedArtifactTTL, 2*cfg.ConsumedArtifactTTL),
		successDelay: cfg.CallbackSuccessDelay,
		failureDelay: cfg.CallbackFailureDelay,
		consumedTTL:  cfg.ConsumedArtifactTTL,
	}
}

// Handle completes the sign in started by the browser identified by
// fingerprint. A callback whose state was not issued to that browser is
// rejected before the exchange and leaves the session untouched.
func (h *CallbackHandler) Handle(ctx context.Context, query url.Values, fingerprint string) Navigation {
	artifact := ArtifactFromQuery(query)

	if artifact.Empty() {
		nav, _ := h.ctrl.CompleteExchange(ctx, artifact)
		nav.Status = MessageNoArtifact
		nav.Delay = h.failureDelay

		return nav
	}

	// Add fails when the key exists, which makes marking atomic.
	if err := h.consumed.Add(artifact.key(), struct{}{}, h.consumedTTL); err != nil {
		slogctx.Info(ctx, "Ignoring an already consumed authorization artifact")

		target := LoginPath
		if h.ctrl.Status() == StatusAuthenticated {
			target = HomePath
		}

		return Navigation{Target: target, Status: MessageAlreadyHandled}
	}

	if err := h.ctrl.consumeState(artifact.State, fingerprint); err != nil {
		slogctx.Warn(ctx, "Rejected a callback with an invalid state", "error", err)

		return Navigation{
			Target: LoginWithError(serviceerr.From(err)),
			Status: MessageFailure,
			Delay:  h.failureDelay,
		}
	}

	nav, err := h.ctrl.CompleteExchange(ctx, artifact)
	if err != nil {
		nav.Status = MessageFailure
		nav.Delay = h.failureDelay

		return nav
	}

	nav.Status = MessageSuccess
	nav.Delay = h.successDelay

	return nav
}
