// Package dispatch routes classified events to handlers keyed by event
// type. Handler failures are logged and counted; they never reach the
// session loop.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/observability"
)

// Handler consumes one event.
type Handler interface {
	Handle(ctx context.Context, ev events.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev events.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev events.Event) error { return f(ctx, ev) }

// Registry is the event dispatcher. Registration may happen concurrently
// with dispatch.
type Registry struct {
	log     zerolog.Logger
	metrics observability.Recorder

	mu       sync.RWMutex
	byType   map[events.Type][]Handler
	any      []Handler
	fallback []Handler
}

type Option func(*Registry)

func WithLogger(l zerolog.Logger) Option { return func(r *Registry) { r.log = l } }

func WithRecorder(rec observability.Recorder) Option { return func(r *Registry) { r.metrics = rec } }

func New(opts ...Option) *Registry {
	r := &Registry{
		log:     *logging.Default(),
		metrics: observability.Noop{},
		byType:  make(map[events.Type][]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers h for events of type t.
func (r *Registry) Handle(t events.Type, h Handler) {
	r.mu.Lock()
	r.byType[t] = append(r.byType[t], h)
	r.mu.Unlock()
}

// HandleFunc registers fn for events of type t.
func (r *Registry) HandleFunc(t events.Type, fn func(context.Context, events.Event) error) {
	r.Handle(t, HandlerFunc(fn))
}

// HandleAny registers h for every event.
func (r *Registry) HandleAny(h Handler) {
	r.mu.Lock()
	r.any = append(r.any, h)
	r.mu.Unlock()
}

// Fallback registers h for events no type handler claimed, including
// Unrecognized ones.
func (r *Registry) Fallback(h Handler) {
	r.mu.Lock()
	r.fallback = append(r.fallback, h)
	r.mu.Unlock()
}

// Dispatch runs the handlers for ev in registration order: type handlers
// (or fallbacks when there are none), then catch-all handlers.
func (r *Registry) Dispatch(ctx context.Context, ev events.Event) {
	r.mu.RLock()
	handlers := append([]Handler(nil), r.byType[ev.Type]...)
	if len(handlers) == 0 {
		handlers = append(handlers, r.fallback...)
	}
	handlers = append(handlers, r.any...)
	r.mu.RUnlock()

	failures := 0
	for _, h := range handlers {
		if err := r.invoke(ctx, h, ev); err != nil {
			failures++
			r.log.Error().
				Err(err).
				Str("event_type", string(ev.Type)).
				Str("message_id", ev.MessageID).
				Msg("event handler failed")
		}
	}
	r.metrics.RecordDispatch(ctx, string(ev.Type), failures)
}

func (r *Registry) invoke(ctx context.Context, h Handler, ev events.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.Handle(ctx, ev)
}

// Types returns the event types with at least one dedicated handler.
func (r *Registry) Types() []events.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]events.Type, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}
