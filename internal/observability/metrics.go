// Package observability records listener metrics and traces through
// OpenTelemetry. Both use the global providers, so they are no-ops until
// the process installs real ones.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/brooks-builds/twitch-eventsub"

// Recorder records listener metrics.
// Use NewRecorder() for OTel metrics or Noop{} when disabled.
type Recorder interface {
	// RecordFrame counts one decoded envelope by kind.
	RecordFrame(ctx context.Context, kind string)

	// RecordRegistration records one subscription registration call.
	RecordRegistration(ctx context.Context, subscriptionType string, duration time.Duration, err error)

	// RecordDispatch counts one dispatched event and its handler failures.
	RecordDispatch(ctx context.Context, eventType string, failures int)

	// RecordReconnect counts a transport reconnect ("reset" or "migrate").
	RecordReconnect(ctx context.Context, reason string)

	// RecordSession counts a session status transition.
	RecordSession(ctx context.Context, status string)
}

type otelRecorder struct {
	frames            metric.Int64Counter
	registrations     metric.Int64Counter
	registrationTime  metric.Float64Histogram
	registrationFails metric.Int64Counter
	dispatched        metric.Int64Counter
	handlerFailures   metric.Int64Counter
	reconnects        metric.Int64Counter
	sessions          metric.Int64Counter
}

var (
	defaultRecorder     *otelRecorder
	defaultRecorderOnce sync.Once
	defaultRecorderErr  error
)

func getDefaultRecorder() (*otelRecorder, error) {
	defaultRecorderOnce.Do(func() {
		defaultRecorder, defaultRecorderErr = newOtelRecorder()
	})
	return defaultRecorder, defaultRecorderErr
}

func newOtelRecorder() (*otelRecorder, error) {
	meter := otel.Meter(instrumentationName)
	r := &otelRecorder{}
	var err error

	if r.frames, err = meter.Int64Counter("eventsub.frames",
		metric.WithDescription("Envelopes received, by kind")); err != nil {
		return nil, err
	}
	if r.registrations, err = meter.Int64Counter("eventsub.registrations",
		metric.WithDescription("Subscription registration calls")); err != nil {
		return nil, err
	}
	if r.registrationTime, err = meter.Float64Histogram("eventsub.registration.latency_ms",
		metric.WithDescription("Subscription registration latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if r.registrationFails, err = meter.Int64Counter("eventsub.registration.errors",
		metric.WithDescription("Failed subscription registration calls")); err != nil {
		return nil, err
	}
	if r.dispatched, err = meter.Int64Counter("eventsub.events.dispatched",
		metric.WithDescription("Events handed to the dispatcher, by type")); err != nil {
		return nil, err
	}
	if r.handlerFailures, err = meter.Int64Counter("eventsub.events.handler_errors",
		metric.WithDescription("Handler errors and panics, by event type")); err != nil {
		return nil, err
	}
	if r.reconnects, err = meter.Int64Counter("eventsub.transport.reconnects",
		metric.WithDescription("Transport reconnects, by reason")); err != nil {
		return nil, err
	}
	if r.sessions, err = meter.Int64Counter("eventsub.session.transitions",
		metric.WithDescription("Session status transitions, by status")); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRecorder returns an OTel-backed Recorder, or Noop{} if the
// instruments cannot be created.
func NewRecorder() Recorder {
	r, err := getDefaultRecorder()
	if err != nil {
		log.Warn().Err(err).Msg("metrics initialization failed, using no-op recorder")
		return Noop{}
	}
	return r
}

func (r *otelRecorder) RecordFrame(ctx context.Context, kind string) {
	r.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (r *otelRecorder) RecordRegistration(ctx context.Context, subscriptionType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("subscription_type", subscriptionType))
	r.registrations.Add(ctx, 1, attrs)
	r.registrationTime.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		r.registrationFails.Add(ctx, 1, attrs)
	}
}

func (r *otelRecorder) RecordDispatch(ctx context.Context, eventType string, failures int) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	r.dispatched.Add(ctx, 1, attrs)
	if failures > 0 {
		r.handlerFailures.Add(ctx, int64(failures), attrs)
	}
}

func (r *otelRecorder) RecordReconnect(ctx context.Context, reason string) {
	r.reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *otelRecorder) RecordSession(ctx context.Context, status string) {
	r.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
