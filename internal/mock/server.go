// Package mock is a local stand-in for the EventSub websocket endpoint and
// the Helix routes the listener calls. It supports the session lifecycle
// end to end: welcome, keepalives, notifications, reconnect advisories,
// revocations and abrupt disconnects.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/protocol"
)

// Config tunes the mock upstream.
type Config struct {
	Keepalive     time.Duration
	EventInterval time.Duration // zero disables generated notifications
	UserID        string
	UserLogin     string
	Seed          int64

	// MaxConnections caps concurrent sessions; a migration does not count
	// against it. Zero means unlimited.
	MaxConnections int
}

// DefaultMaxConnections matches the upstream per-token connection cap.
const DefaultMaxConnections = 3

type conn struct {
	sessionID   string
	connectedAt time.Time
	ws          *websocket.Conn
	send        chan []byte
	drop        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

func (c *conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump owns all writes. A keepalive is sent whenever the connection
// has been quiet for the keepalive window.
func (c *conn) writePump(keepalive time.Duration) {
	defer c.ws.Close()
	timer := time.NewTimer(keepalive)
	defer timer.Stop()

	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			timer.Reset(keepalive)
		case <-timer.C:
			if err := c.ws.WriteMessage(websocket.TextMessage, KeepaliveMessage()); err != nil {
				return
			}
			timer.Reset(keepalive)
		case <-c.drop:
			// No close frame: the client sees the peer vanish.
			_ = c.ws.UnderlyingConn().Close()
			return
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

type Server struct {
	cfg      Config
	log      zerolog.Logger
	gen      *Generator
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn
	subs  map[string][]protocol.Subscription // by session id, kept across migrations
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

func NewServer(cfg Config, opts ...Option) *Server {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 10 * time.Second
	}
	if cfg.UserID == "" {
		cfg.UserID = "1234"
	}
	if cfg.UserLogin == "" {
		cfg.UserLogin = "mockstreamer"
	}
	s := &Server{
		cfg:   cfg,
		log:   *logging.Default(),
		gen:   NewGenerator(cfg.Seed),
		conns: make(map[string]*conn),
		subs:  make(map[string][]protocol.Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/eventsub/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("/users", s.handleUsers)
	mux.HandleFunc("/mock/reconnect", s.handleReconnect)
	mux.HandleFunc("/mock/revoke", s.handleRevoke)
	mux.HandleFunc("/mock/drop", s.handleDrop)
	mux.HandleFunc("/mock/notify", s.handleNotify)
	return mux
}

// Start runs the notification generator until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	if s.cfg.EventInterval > 0 {
		go s.runGenerator(ctx, s.cfg.EventInterval)
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.Start(ctx)
	go func() {
		<-ctx.Done()
		s.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("mock eventsub listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Sessions returns the ids of connected sessions.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	return ids
}

// Subscriptions returns the subscriptions bound to sessionID.
func (s *Server) Subscriptions(sessionID string) []protocol.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Subscription(nil), s.subs[sessionID]...)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// A reconnect URL carries the session being migrated.
	sessionID := r.URL.Query().Get("reconnect")
	if !s.admit(sessionID) {
		writeError(w, http.StatusTooManyRequests, "too many websocket connections")
		return
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade")
		return
	}

	c := &conn{
		sessionID:   sessionID,
		connectedAt: time.Now(),
		ws:          ws,
		send:        make(chan []byte, 64),
		drop:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	s.mu.Lock()
	old := s.conns[sessionID]
	s.conns[sessionID] = c
	s.mu.Unlock()

	go c.writePump(s.cfg.Keepalive)
	c.enqueue(WelcomeMessage(sessionID, c.connectedAt, s.cfg.Keepalive))
	if old != nil {
		old.close()
	}
	s.log.Info().Str("session_id", sessionID).Str("remote", r.RemoteAddr).Msg("mock client connected")

	go func() {
		defer func() {
			s.mu.Lock()
			if s.conns[sessionID] == c {
				delete(s.conns, sessionID)
			}
			s.mu.Unlock()
			c.close()
			s.log.Info().Str("session_id", sessionID).Msg("mock client disconnected")
		}()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) admit(reconnectID string) bool {
	if s.cfg.MaxConnections <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[reconnectID]; ok && reconnectID != "" {
		return true
	}
	return len(s.conns) < s.cfg.MaxConnections
}

type createRequest struct {
	Type      string             `json:"type"`
	Version   string             `json:"version"`
	Condition map[string]string  `json:"condition"`
	Transport protocol.Transport `json:"transport"`
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Type == "" || req.Version == "" || req.Transport.Method != "websocket" {
		writeError(w, http.StatusBadRequest, "type, version and websocket transport are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[req.Transport.SessionID]; !ok {
		writeError(w, http.StatusBadRequest, "websocket transport session does not exist or has already disconnected")
		return
	}
	for _, existing := range s.subs[req.Transport.SessionID] {
		if existing.Type == req.Type && existing.Version == req.Version {
			writeError(w, http.StatusConflict, "subscription already exists")
			return
		}
	}

	sub := protocol.Subscription{
		ID:        uuid.NewString(),
		Status:    "enabled",
		Type:      req.Type,
		Version:   req.Version,
		Condition: req.Condition,
		Transport: req.Transport,
		CreatedAt: time.Now().UTC(),
	}
	s.subs[req.Transport.SessionID] = append(s.subs[req.Transport.SessionID], sub)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"data":           []protocol.Subscription{sub},
		"total":          len(s.subs[req.Transport.SessionID]),
		"total_cost":     0,
		"max_total_cost": 10,
	})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	login := r.URL.Query().Get("login")
	data := []map[string]string{}
	if login == "" || strings.EqualFold(login, s.cfg.UserLogin) {
		data = append(data, map[string]string{
			"id":           s.cfg.UserID,
			"login":        s.cfg.UserLogin,
			"display_name": s.cfg.UserLogin,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// targets returns the connections selected by the optional session query
// parameter.
func (s *Server) targets(r *http.Request) []*conn {
	want := r.URL.Query().Get("session")
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*conn
	for id, c := range s.conns {
		if want == "" || want == id {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	n := 0
	for _, c := range s.targets(r) {
		url := "ws://" + r.Host + "/ws?reconnect=" + c.sessionID
		if c.enqueue(ReconnectMessage(c.sessionID, c.connectedAt, url)) {
			n++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": n})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	typ := r.URL.Query().Get("type")
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "authorization_revoked"
	}

	n := 0
	for _, c := range s.targets(r) {
		s.mu.Lock()
		subs := s.subs[c.sessionID]
		var keep []protocol.Subscription
		var revoked []protocol.Subscription
		for _, sub := range subs {
			if typ == "" || sub.Type == typ {
				revoked = append(revoked, sub)
			} else {
				keep = append(keep, sub)
			}
		}
		s.subs[c.sessionID] = keep
		s.mu.Unlock()

		for _, sub := range revoked {
			if c.enqueue(RevocationMessage(sub, status)) {
				n++
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": n})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	n := 0
	for _, c := range s.targets(r) {
		select {
		case c.drop <- struct{}{}:
			n++
		default:
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"dropped": n})
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	typ := r.URL.Query().Get("type")

	n := 0
	for _, c := range s.targets(r) {
		for _, sub := range s.Subscriptions(c.sessionID) {
			if typ != "" && sub.Type != typ {
				continue
			}
			if c.enqueue(NotificationMessage(sub, s.gen.Event(sub))) {
				n++
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": n})
}

func (s *Server) pickSubscription() (*conn, protocol.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.mu.Lock()
	defer s.gen.mu.Unlock()

	var candidates []*conn
	for id, c := range s.conns {
		if len(s.subs[id]) > 0 {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, protocol.Subscription{}, false
	}
	c := candidates[s.gen.rng.Intn(len(candidates))]
	subs := s.subs[c.sessionID]
	return c, subs[s.gen.rng.Intn(len(subs))], true
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.close()
	}
}

func authorized(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") && r.Header.Get("Client-Id") != ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":   http.StatusText(code),
		"status":  code,
		"message": msg,
	})
}
