package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartHandshakeSpan starts a span covering one welcome/subscribe round.
func StartHandshakeSpan(ctx context.Context, sessionID string, subscriptions int) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "eventsub.handshake",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("subscriptions", subscriptions),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartRegistrationSpan starts a child span for one registration call.
func StartRegistrationSpan(ctx context.Context, subscriptionType string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "eventsub.register",
		trace.WithAttributes(attribute.String("subscription.type", subscriptionType)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan completes span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
