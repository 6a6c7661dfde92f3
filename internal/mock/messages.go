package mock

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/brooks-builds/twitch-eventsub/internal/protocol"
)

func encode(meta protocol.Metadata, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	data, _ := json.Marshal(protocol.Message{Metadata: meta, Payload: raw})
	return data
}

func metadata(messageType string) protocol.Metadata {
	return protocol.Metadata{
		MessageID:        uuid.NewString(),
		MessageType:      messageType,
		MessageTimestamp: time.Now().UTC(),
	}
}

type sessionPayload struct {
	Session protocol.SessionInfo `json:"session"`
}

// WelcomeMessage builds session_welcome for sessionID.
func WelcomeMessage(sessionID string, connectedAt time.Time, keepalive time.Duration) []byte {
	secs := int(keepalive / time.Second)
	return encode(metadata(protocol.MessageWelcome), sessionPayload{Session: protocol.SessionInfo{
		ID:                      sessionID,
		Status:                  "connected",
		ConnectedAt:             connectedAt.UTC(),
		KeepaliveTimeoutSeconds: &secs,
	}})
}

// KeepaliveMessage builds session_keepalive.
func KeepaliveMessage() []byte {
	return encode(metadata(protocol.MessageKeepalive), struct{}{})
}

// ReconnectMessage builds session_reconnect pointing at url.
func ReconnectMessage(sessionID string, connectedAt time.Time, url string) []byte {
	return encode(metadata(protocol.MessageReconnect), sessionPayload{Session: protocol.SessionInfo{
		ID:           sessionID,
		Status:       "reconnecting",
		ConnectedAt:  connectedAt.UTC(),
		ReconnectURL: &url,
	}})
}

type notificationPayload struct {
	Subscription protocol.Subscription `json:"subscription"`
	Event        json.RawMessage       `json:"event"`
}

// NotificationMessage builds a notification for sub carrying event.
func NotificationMessage(sub protocol.Subscription, event json.RawMessage) []byte {
	meta := metadata(protocol.MessageNotification)
	meta.SubscriptionType = sub.Type
	meta.SubscriptionVersion = sub.Version
	return encode(meta, notificationPayload{Subscription: sub, Event: event})
}

type revocationPayload struct {
	Subscription protocol.Subscription `json:"subscription"`
}

// RevocationMessage builds a revocation for sub with the given status,
// e.g. "authorization_revoked".
func RevocationMessage(sub protocol.Subscription, status string) []byte {
	meta := metadata(protocol.MessageRevocation)
	meta.SubscriptionType = sub.Type
	meta.SubscriptionVersion = sub.Version
	sub.Status = status
	return encode(meta, revocationPayload{Subscription: sub})
}
