package session

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle status of one Session value.
type Status int

const (
	Pending Status = iota
	Active
	Reconnecting
	Revoked
	Closed
)

var statusNames = map[Status]string{
	Pending:      "pending",
	Active:       "active",
	Reconnecting: "reconnecting",
	Revoked:      "revoked",
	Closed:       "closed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// State is the position of the Machine in the handshake.
type State int

const (
	StateConnecting State = iota
	StateWelcomed
	StateSubscribed
	StateReconnecting
	StateRevoked
	StateClosed
)

var stateNames = map[State]string{
	StateConnecting:   "connecting",
	StateWelcomed:     "welcomed",
	StateSubscribed:   "subscribed",
	StateReconnecting: "reconnecting",
	StateRevoked:      "revoked",
	StateClosed:       "closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Terminal reports whether no further envelope can be handled.
func (s State) Terminal() bool {
	return s == StateRevoked || s == StateClosed
}

var transitions = map[State][]State{
	StateConnecting:   {StateWelcomed, StateReconnecting, StateRevoked, StateClosed},
	StateWelcomed:     {StateSubscribed, StateRevoked, StateClosed},
	StateSubscribed:   {StateWelcomed, StateReconnecting, StateRevoked, StateClosed},
	StateReconnecting: {StateWelcomed, StateReconnecting, StateRevoked, StateClosed},
}

// CanTransition reports whether from → to is an edge of the machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session identifies one handshake epoch. Values are never mutated once
// published; every change produces a new Session.
type Session struct {
	ID               string        `json:"id"`
	Status           Status        `json:"status"`
	ConnectedAt      time.Time     `json:"connectedAt"`
	KeepaliveTimeout time.Duration `json:"keepaliveTimeout"`
	ReconnectURL     string        `json:"reconnectUrl,omitempty"`
	Epoch            int           `json:"epoch"`
}

// IsTerminal reports whether the session can never become Active again.
func (s Session) IsTerminal() bool {
	return s.Status == Revoked || s.Status == Closed
}

func (s Session) withStatus(status Status) *Session {
	s.Status = status
	return &s
}

// Transition is passed to observers on every state change.
type Transition struct {
	From    State
	To      State
	Session *Session // snapshot after the change, nil before the first welcome
}
