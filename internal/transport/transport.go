// Package transport owns the websocket connection to the EventSub
// endpoint and hands raw frames to the layer above.
//
// Exactly one failure is retried here: the peer dropping the connection
// without a closing handshake (see IsRecoverable). Everything else is
// returned as a *Error and ends the run.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/observability"
	"github.com/brooks-builds/twitch-eventsub/internal/protocol"
)

const (
	DefaultURL              = "wss://eventsub.wss.twitch.tv/ws"
	DefaultMaxMessageSize   = 64 << 20
	DefaultMaxFrameSize     = 16 << 20
	defaultHandshakeTimeout = 10 * time.Second
)

var (
	// ErrTransport matches every fatal transport error via errors.Is.
	ErrTransport = errors.New("transport failure")
	ErrClosed    = errors.New("transport closed")
)

// Error is a fatal transport failure.
type Error struct {
	Op  string // "dial", "read" or "migrate"
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrTransport }

// IsRecoverable reports whether err means the peer reset the connection
// without performing the closing handshake. gorilla/websocket reports any
// EOF on the wire as a CloseError with code 1006, which is never sent by a
// peer as a real close frame.
func IsRecoverable(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseAbnormalClosure
	}
	return false
}

// Conn is the subset of *websocket.Conn the manager reads through.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Config holds the fixed connection limits.
type Config struct {
	URL              string
	MaxMessageSize   int64
	MaxFrameSize     int64
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the production endpoint and limits.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		MaxMessageSize:   DefaultMaxMessageSize,
		MaxFrameSize:     DefaultMaxFrameSize,
		HandshakeTimeout: defaultHandshakeTimeout,
	}
}

// Manager is a reconnecting frame source. It is driven by a single
// goroutine; only Close may be called concurrently with Next.
type Manager struct {
	cfg         Config
	dial        DialFunc
	log         zerolog.Logger
	metrics     observability.Recorder
	onReconnect func()

	mu         sync.Mutex
	conn       Conn
	url        string
	idle       time.Duration
	closed     bool
	reconnects int
}

type Option func(*Manager)

// WithDialer replaces the websocket dialer.
func WithDialer(d DialFunc) Option { return func(m *Manager) { m.dial = d } }

func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }

func WithRecorder(r observability.Recorder) Option { return func(m *Manager) { m.metrics = r } }

// WithReconnectHook registers fn to run after every transparent reconnect.
func WithReconnectHook(fn func()) Option { return func(m *Manager) { m.onReconnect = fn } }

func New(cfg Config, opts ...Option) *Manager {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	m := &Manager{
		cfg:     cfg,
		log:     *logging.Default(),
		metrics: observability.Noop{},
	}
	m.dial = m.dialWebsocket
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) dialWebsocket(ctx context.Context, url string) (Conn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	}
	conn, resp, err := d.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	// gorilla only limits whole messages. MaxFrameSize is not enforced
	// separately.
	conn.SetReadLimit(m.cfg.MaxMessageSize)
	return conn, nil
}

// Connect dials the configured endpoint.
func (m *Manager) Connect(ctx context.Context) error {
	return m.connect(ctx, "dial", m.cfg.URL)
}

func (m *Manager) connect(ctx context.Context, op, url string) error {
	conn, err := m.dial(ctx, url)
	if err != nil {
		return &Error{Op: op, URL: url, Err: err}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return &Error{Op: op, URL: url, Err: ErrClosed}
	}
	old := m.conn
	m.conn = conn
	m.url = url
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	m.log.Info().Str("url", url).Str("op", op).Msg("websocket connected")
	return nil
}

// Next blocks for the next data frame. A peer reset is absorbed by
// redialling the default endpoint; the new connection's frames follow on
// the next iteration without the caller seeing an error.
func (m *Manager) Next(ctx context.Context) (protocol.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Frame{}, err
		}

		m.mu.Lock()
		conn, url, idle, closed := m.conn, m.url, m.idle, m.closed
		m.mu.Unlock()
		if closed || conn == nil {
			return protocol.Frame{}, &Error{Op: "read", URL: url, Err: ErrClosed}
		}

		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		mt, data, err := conn.ReadMessage()
		if err == nil {
			return protocol.Frame{Type: protocol.FrameType(mt), Data: data}, nil
		}
		if ctx.Err() != nil {
			return protocol.Frame{}, ctx.Err()
		}
		if !IsRecoverable(err) {
			return protocol.Frame{}, &Error{Op: "read", URL: url, Err: err}
		}

		m.log.Warn().Err(err).Str("url", url).Msg("peer reset without closing handshake, reconnecting")
		conn.Close()
		if err := m.connect(ctx, "reconnect", m.cfg.URL); err != nil {
			return protocol.Frame{}, err
		}

		m.mu.Lock()
		m.reconnects++
		m.mu.Unlock()
		m.metrics.RecordReconnect(ctx, "reset")
		if m.onReconnect != nil {
			m.onReconnect()
		}
	}
}

// Migrate switches to url (an upstream-supplied reconnect endpoint) and
// closes the previous connection.
func (m *Manager) Migrate(ctx context.Context, url string) error {
	if err := m.connect(ctx, "migrate", url); err != nil {
		return err
	}
	m.metrics.RecordReconnect(ctx, "migrate")
	return nil
}

// SetIdleTimeout bounds the wait for each frame. Zero disables it.
// Exceeding it is a fatal read error.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.mu.Lock()
	m.idle = d
	m.mu.Unlock()
}

// Reconnects returns how many peer resets were absorbed.
func (m *Manager) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// URL returns the endpoint of the current connection.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// Close shuts the connection; a blocked Next returns.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.closed = true
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
