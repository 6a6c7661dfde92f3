// Package protocol decodes EventSub websocket frames into typed envelopes.
// Types mirror the upstream wire format; the client never writes data
// frames, so there is no encoder.
package protocol

import (
	"encoding/json"
	"time"
)

// FrameType mirrors the websocket opcode of a received data frame.
type FrameType int

const (
	TextFrame   FrameType = 1
	BinaryFrame FrameType = 2
)

// Frame is one raw message read off the transport.
type Frame struct {
	Type FrameType
	Data []byte
}

// Kind classifies an envelope.
type Kind int

const (
	KindUnknown Kind = iota
	KindWelcome
	KindKeepalive
	KindNotification
	KindRevocation
	KindReconnect
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindWelcome:      "welcome",
	KindKeepalive:    "keepalive",
	KindNotification: "notification",
	KindRevocation:   "revocation",
	KindReconnect:    "reconnect",
}

// Wire values of metadata.message_type.
const (
	MessageWelcome      = "session_welcome"
	MessageKeepalive    = "session_keepalive"
	MessageNotification = "notification"
	MessageRevocation   = "revocation"
	MessageReconnect    = "session_reconnect"
)

var kindFromMessageType = map[string]Kind{
	MessageWelcome:      KindWelcome,
	MessageKeepalive:    KindKeepalive,
	MessageNotification: KindNotification,
	MessageRevocation:   KindRevocation,
	MessageReconnect:    KindReconnect,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Metadata is the envelope header shared by every message type.
type Metadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

// Message is the raw JSON shape of every EventSub websocket message.
type Message struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// SessionInfo is carried by welcome and reconnect messages.
type SessionInfo struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	ConnectedAt             time.Time `json:"connected_at"`
	KeepaliveTimeoutSeconds *int      `json:"keepalive_timeout_seconds"`
	ReconnectURL            *string   `json:"reconnect_url"`
}

// KeepaliveTimeout returns the advertised keepalive window, or zero.
func (s SessionInfo) KeepaliveTimeout() time.Duration {
	if s.KeepaliveTimeoutSeconds == nil {
		return 0
	}
	return time.Duration(*s.KeepaliveTimeoutSeconds) * time.Second
}

// AlternateURL returns the reconnect endpoint, or "" if none was supplied.
func (s SessionInfo) AlternateURL() string {
	if s.ReconnectURL == nil {
		return ""
	}
	return *s.ReconnectURL
}

type sessionPayload struct {
	Session SessionInfo `json:"session"`
}

// Transport describes how a subscription is delivered.
type Transport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id,omitempty"`
}

// Subscription is the upstream view of one subscription.
type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Cost      int               `json:"cost"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notification is the payload of a notification message. Event is left
// raw; the event catalog owns its decoding.
type Notification struct {
	MessageID    string          `json:"-"`
	Timestamp    time.Time       `json:"-"`
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event"`
}

// Revocation is the payload of a revocation message.
type Revocation struct {
	Subscription Subscription `json:"subscription"`
}

// Envelope is the decoded unit handed to the session state machine.
// At most one of Session, Notification and Revocation is set, matching Kind.
type Envelope struct {
	Kind         Kind
	Metadata     Metadata
	Session      *SessionInfo
	Notification *Notification
	Revocation   *Revocation
	Raw          json.RawMessage
}
