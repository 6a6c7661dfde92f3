// Package listener runs one EventSub client: a transport, the session
// state machine on top of it and the dispatcher fed by it, driven by a
// single cooperative loop.
package listener

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/observability"
	"github.com/brooks-builds/twitch-eventsub/internal/protocol"
	"github.com/brooks-builds/twitch-eventsub/internal/session"
	"github.com/brooks-builds/twitch-eventsub/internal/transport"
)

var ErrAlreadyRunning = errors.New("listener: already running")

// Config is everything a listener needs besides its collaborators.
type Config struct {
	Transport      transport.Config
	Requests       []events.SubscriptionRequest
	KeepaliveGrace time.Duration
}

type Listener struct {
	id        string
	url       string
	log       zerolog.Logger
	transport *transport.Manager
	machine   *session.Machine
	running   atomic.Bool
}

type options struct {
	log       zerolog.Logger
	metrics   observability.Recorder
	dial      transport.DialFunc
	observers []func(session.Transition)
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

func WithRecorder(r observability.Recorder) Option { return func(o *options) { o.metrics = r } }

// WithDialer replaces the websocket dialer of the transport.
func WithDialer(d transport.DialFunc) Option { return func(o *options) { o.dial = d } }

// WithObserver registers fn for every session state transition.
func WithObserver(fn func(session.Transition)) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

// New wires a transport and a session machine. Each listener owns its
// own; listeners share nothing mutable.
func New(cfg Config, registrar session.Registrar, dispatcher session.Dispatcher, opts ...Option) *Listener {
	o := options{
		log:     *logging.Default(),
		metrics: observability.Noop{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	l := &Listener{id: uuid.NewString(), url: cfg.Transport.URL}
	if l.url == "" {
		l.url = transport.DefaultURL
	}
	l.log = o.log.With().Str("listener_id", l.id).Logger()

	topts := []transport.Option{
		transport.WithLogger(l.log.With().Str("component", "transport").Logger()),
		transport.WithRecorder(o.metrics),
		transport.WithReconnectHook(func() { l.machine.TransportReset() }),
	}
	if o.dial != nil {
		topts = append(topts, transport.WithDialer(o.dial))
	}
	l.transport = transport.New(cfg.Transport, topts...)

	mopts := []session.Option{
		session.WithTransport(l.transport),
		session.WithLogger(l.log.With().Str("component", "session").Logger()),
		session.WithRecorder(o.metrics),
	}
	if cfg.KeepaliveGrace > 0 {
		mopts = append(mopts, session.WithKeepaliveGrace(cfg.KeepaliveGrace))
	}
	for _, fn := range o.observers {
		mopts = append(mopts, session.WithObserver(fn))
	}
	l.machine = session.New(cfg.Requests, registrar, dispatcher, mopts...)
	return l
}

// ID identifies this listener in logs.
func (l *Listener) ID() string { return l.id }

// State returns the session machine state. Safe from any goroutine.
func (l *Listener) State() session.State { return l.machine.State() }

// Session returns the current session snapshot. Safe from any goroutine.
func (l *Listener) Session() (session.Session, bool) { return l.machine.Session() }

// Reconnects returns how many peer resets the transport absorbed.
func (l *Listener) Reconnects() int { return l.transport.Reconnects() }

// Run connects and processes frames until a fatal error, a revocation or
// ctx is cancelled, in which case it returns ctx.Err(). A listener runs
// once.
func (l *Listener) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.transport.Close()

	l.log.Info().Str("url", l.url).Msg("listener starting")
	if err := l.transport.Connect(ctx); err != nil {
		l.machine.Close()
		return l.exit(ctx, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = l.transport.Close() })
	defer stop()

	for {
		frame, err := l.transport.Next(ctx)
		if err != nil {
			l.machine.Close()
			return l.exit(ctx, err)
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			return l.exit(ctx, l.machine.Reject(err))
		}
		if err := l.machine.Handle(ctx, env); err != nil {
			return l.exit(ctx, err)
		}
	}
}

func (l *Listener) exit(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		l.log.Info().Msg("listener stopped")
		return ctx.Err()
	}
	ev := l.log.Error().Err(err).Stringer("state", l.machine.State())
	if sess, ok := l.machine.Session(); ok {
		ev = ev.Str("session_id", sess.ID)
	}
	ev.Msg("listener failed")
	return err
}
