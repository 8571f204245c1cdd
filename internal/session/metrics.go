package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	slogctx "github.com/veqryn/slog-context"
)

const meterName = "session-portal/session"

type meters struct {
	transitions metric.Int64Counter
	exchanges   metric.Int64Counter
}

func newMeters(ctx context.Context) meters {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion(otel.Version()))

	var m meters
	var err error

	m.transitions, err = meter.Int64Counter(
		"session.transitions",
		metric.WithDescription("Session status transitions"),
		metric.WithUnit("transition"),
	)
	if err != nil {
		slogctx.Warn(ctx, "Failed to create the transitions counter", "error", err)
	}

	m.exchanges, err = meter.Int64Counter(
		"session.exchanges",
		metric.WithDescription("Authorization artifact exchanges"),
		metric.WithUnit("exchange"),
	)
	if err != nil {
		slogctx.Warn(ctx, "Failed to create the exchanges counter", "error", err)
	}

	return m
}

func (m meters) transition(ctx context.Context, to Status) {
	if m.transitions != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", to.String())))
	}
}

func (m meters) exchange(ctx context.Context, result string) {
	if m.exchanges != nil {
		m.exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}
