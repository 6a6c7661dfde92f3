// Package session drives the EventSub handshake: it turns decoded
// envelopes into session changes, subscription registrations and
// dispatched events.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/observability"
	"github.com/brooks-builds/twitch-eventsub/internal/protocol"
)

// Registrar binds one subscription request to a session id upstream.
type Registrar interface {
	Register(ctx context.Context, req events.SubscriptionRequest, sessionID string) error
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(ctx context.Context, req events.SubscriptionRequest, sessionID string) error

func (f RegistrarFunc) Register(ctx context.Context, req events.SubscriptionRequest, sessionID string) error {
	return f(ctx, req, sessionID)
}

// Classifier resolves a notification into a typed event.
type Classifier interface {
	Classify(n protocol.Notification) events.Event
}

// Dispatcher receives every classified event. It must not fail.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev events.Event)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, ev events.Event)

func (f DispatcherFunc) Dispatch(ctx context.Context, ev events.Event) { f(ctx, ev) }

// Transport is the part of the connection the machine steers.
type Transport interface {
	Migrate(ctx context.Context, url string) error
	SetIdleTimeout(d time.Duration)
}

// Machine is the session state machine. Handle, TransportReset and Close
// must be called from the single loop goroutine; State and Session are
// safe from anywhere.
type Machine struct {
	requests   []events.SubscriptionRequest
	registrar  Registrar
	dispatcher Dispatcher
	classifier Classifier
	transport  Transport
	log        zerolog.Logger
	metrics    observability.Recorder
	grace      time.Duration
	observers  []func(Transition)
	now        func() time.Time

	state   atomic.Int32
	session atomic.Pointer[Session]
	epoch   int
}

type Option func(*Machine)

func WithClassifier(c Classifier) Option { return func(m *Machine) { m.classifier = c } }

// WithTransport lets the machine migrate to upstream-supplied endpoints
// and bound reads by the keepalive timeout.
func WithTransport(t Transport) Option { return func(m *Machine) { m.transport = t } }

func WithLogger(l zerolog.Logger) Option { return func(m *Machine) { m.log = l } }

func WithRecorder(r observability.Recorder) Option { return func(m *Machine) { m.metrics = r } }

// WithKeepaliveGrace is added to the welcome's keepalive timeout before it
// becomes the transport idle timeout.
func WithKeepaliveGrace(d time.Duration) Option { return func(m *Machine) { m.grace = d } }

// WithObserver registers fn for every state transition.
func WithObserver(fn func(Transition)) Option {
	return func(m *Machine) { m.observers = append(m.observers, fn) }
}

func New(requests []events.SubscriptionRequest, registrar Registrar, dispatcher Dispatcher, opts ...Option) *Machine {
	m := &Machine{
		requests:   append([]events.SubscriptionRequest(nil), requests...),
		registrar:  registrar,
		dispatcher: dispatcher,
		classifier: events.Classifier{},
		log:        *logging.Default(),
		metrics:    observability.Noop{},
		grace:      5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current machine state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Session returns the current session snapshot, if any welcome was seen.
func (m *Machine) Session() (Session, bool) {
	s := m.session.Load()
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// Handle processes one envelope to completion. A non-nil error is fatal
// and leaves the machine in a terminal state.
func (m *Machine) Handle(ctx context.Context, env protocol.Envelope) error {
	m.metrics.RecordFrame(ctx, env.Kind.String())

	if st := m.State(); st.Terminal() {
		return &ProtocolError{State: st, Kind: env.Kind, Reason: "message after session ended"}
	}

	switch env.Kind {
	case protocol.KindWelcome:
		return m.welcome(ctx, env)
	case protocol.KindKeepalive:
		m.log.Trace().Str("message_id", env.Metadata.MessageID).Msg("keepalive")
		return nil
	case protocol.KindNotification:
		return m.notification(ctx, env)
	case protocol.KindRevocation:
		return m.revoke(env)
	case protocol.KindReconnect:
		return m.reconnect(ctx, env)
	default:
		m.log.Debug().
			Str("message_type", env.Metadata.MessageType).
			Str("message_id", env.Metadata.MessageID).
			Msg("ignoring unknown message")
		return nil
	}
}

// Reject fails the machine with a ProtocolError for an envelope that could
// not be decoded.
func (m *Machine) Reject(cause error) error {
	return m.fail(&ProtocolError{State: m.State(), Kind: protocol.KindUnknown, Reason: "malformed envelope", Err: cause})
}

// TransportReset records that the connection was transparently replaced.
// The current session is superseded; the next welcome starts a new one.
func (m *Machine) TransportReset() {
	st := m.State()
	if st.Terminal() || st == StateConnecting {
		return
	}
	if cur := m.session.Load(); cur != nil {
		m.publish(cur.withStatus(Reconnecting))
	}
	m.setState(StateReconnecting)
}

// Close moves the machine to StateClosed unless it already ended.
func (m *Machine) Close() {
	if m.State().Terminal() {
		return
	}
	if cur := m.session.Load(); cur != nil {
		m.publish(cur.withStatus(Closed))
	}
	m.setState(StateClosed)
}

func (m *Machine) welcome(ctx context.Context, env protocol.Envelope) error {
	info := env.Session
	if info == nil || info.ID == "" {
		return m.fail(&ProtocolError{State: m.State(), Kind: env.Kind, Reason: "missing session id"})
	}

	connectedAt := info.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = m.now()
	}
	m.epoch++
	sess := &Session{
		ID:               info.ID,
		Status:           Active,
		ConnectedAt:      connectedAt,
		KeepaliveTimeout: info.KeepaliveTimeout(),
		Epoch:            m.epoch,
	}
	m.publish(sess)
	m.setState(StateWelcomed)

	if m.transport != nil && sess.KeepaliveTimeout > 0 {
		m.transport.SetIdleTimeout(sess.KeepaliveTimeout + m.grace)
	}

	if err := m.subscribe(ctx, sess); err != nil {
		return m.fail(err)
	}
	m.setState(StateSubscribed)
	m.log.Info().
		Str("session_id", sess.ID).
		Int("epoch", sess.Epoch).
		Int("subscriptions", len(m.requests)).
		Msg("session subscribed")
	return nil
}

func (m *Machine) subscribe(ctx context.Context, sess *Session) (err error) {
	ctx, span := observability.StartHandshakeSpan(ctx, sess.ID, len(m.requests))
	defer func() { observability.EndSpan(span, err) }()

	for _, req := range m.requests {
		if cur := m.session.Load(); cur != sess || cur.Status != Active {
			return &ProtocolError{State: m.State(), Kind: protocol.KindWelcome, Reason: "session not active during registration"}
		}

		rctx, rspan := observability.StartRegistrationSpan(ctx, string(req.Type))
		start := time.Now()
		rerr := m.registrar.Register(rctx, req, sess.ID)
		m.metrics.RecordRegistration(ctx, string(req.Type), time.Since(start), rerr)
		observability.EndSpan(rspan, rerr)
		if rerr != nil {
			return &RegistrationError{SessionID: sess.ID, Request: req, Err: rerr}
		}
		m.log.Debug().Str("session_id", sess.ID).Stringer("request", req).Msg("subscription registered")
	}
	return nil
}

func (m *Machine) notification(ctx context.Context, env protocol.Envelope) error {
	st := m.State()
	cur := m.session.Load()
	if st != StateSubscribed || cur == nil || cur.Status != Active {
		return m.fail(&ProtocolError{State: st, Kind: env.Kind, Reason: "notification without an active session"})
	}
	if env.Notification == nil {
		return m.fail(&ProtocolError{State: st, Kind: env.Kind, Reason: "notification without payload"})
	}

	ev := m.classifier.Classify(*env.Notification)
	if !ev.Recognized() {
		m.log.Debug().
			Str("wire_type", ev.WireType).
			Str("version", ev.Version).
			AnErr("decode_error", ev.DecodeErr).
			Msg("unrecognized event")
	}
	m.dispatcher.Dispatch(ctx, ev)
	return nil
}

func (m *Machine) revoke(env protocol.Envelope) error {
	rerr := &RevokedError{}
	if env.Revocation != nil {
		sub := env.Revocation.Subscription
		rerr.SubscriptionID = sub.ID
		rerr.SubscriptionType = sub.Type
		rerr.Status = sub.Status
	}
	if cur := m.session.Load(); cur != nil {
		rerr.SessionID = cur.ID
		m.publish(cur.withStatus(Revoked))
	}
	m.setState(StateRevoked)
	m.log.Error().
		Str("subscription_type", rerr.SubscriptionType).
		Str("status", rerr.Status).
		Msg("subscription revoked")
	return rerr
}

// reconnect handles session_reconnect. With an alternate endpoint and a
// steerable transport the connection migrates and the welcome that
// follows on the new connection re-runs the handshake. Otherwise the
// advisory is handled like a welcome.
func (m *Machine) reconnect(ctx context.Context, env protocol.Envelope) error {
	var url string
	if env.Session != nil {
		url = env.Session.AlternateURL()
	}
	if url == "" || m.transport == nil {
		if url != "" {
			m.log.Warn().Str("reconnect_url", url).Msg("no transport to migrate, re-running handshake in place")
		}
		return m.welcome(ctx, env)
	}

	next := &Session{Status: Reconnecting, ReconnectURL: url, ConnectedAt: m.now(), Epoch: m.epoch}
	if cur := m.session.Load(); cur != nil {
		next = cur.withStatus(Reconnecting)
		next.ReconnectURL = url
	}
	m.publish(next)
	m.setState(StateReconnecting)
	m.log.Info().Str("session_id", next.ID).Msg("upstream requested reconnect, migrating")

	if err := m.transport.Migrate(ctx, url); err != nil {
		return m.fail(err)
	}
	return nil
}

func (m *Machine) fail(err error) error {
	if cur := m.session.Load(); cur != nil && !cur.IsTerminal() {
		m.publish(cur.withStatus(Closed))
	}
	m.setState(StateClosed)
	return err
}

func (m *Machine) publish(s *Session) {
	m.session.Store(s)
	m.metrics.RecordSession(context.Background(), s.Status.String())
}

func (m *Machine) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to && to != StateReconnecting {
		return
	}
	if !CanTransition(from, to) {
		m.log.Warn().Stringer("from", from).Stringer("to", to).Msg("unexpected state transition")
	}
	m.log.Debug().Stringer("from", from).Stringer("to", to).Msg("session state")

	t := Transition{From: from, To: to}
	if s := m.session.Load(); s != nil {
		snap := *s
		t.Session = &snap
	}
	for _, fn := range m.observers {
		fn(t)
	}
}
