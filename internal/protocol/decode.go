package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed       = errors.New("protocol: malformed message")
	ErrMissingSession  = errors.New("protocol: missing session")
	ErrMissingMetadata = errors.New("protocol: missing metadata")
)

// Decode classifies a frame. Binary frames and unrecognised message types
// decode to KindUnknown without error so new upstream kinds never crash the
// client. Malformed text frames return an error wrapping ErrMalformed.
func Decode(f Frame) (Envelope, error) {
	if f.Type != TextFrame {
		return Envelope{Kind: KindUnknown, Raw: f.Data}, nil
	}

	var msg Message
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Metadata.MessageType == "" {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, ErrMissingMetadata)
	}

	env := Envelope{
		Kind:     kindFromMessageType[msg.Metadata.MessageType],
		Metadata: msg.Metadata,
		Raw:      f.Data,
	}

	switch env.Kind {
	case KindWelcome, KindReconnect:
		var p sessionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Kind, err)
		}
		if p.Session.ID == "" {
			return Envelope{}, fmt.Errorf("%w: %s: %w", ErrMalformed, env.Kind, ErrMissingSession)
		}
		env.Session = &p.Session

	case KindNotification:
		var n Notification
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			return Envelope{}, fmt.Errorf("%w: notification payload: %v", ErrMalformed, err)
		}
		n.MessageID = msg.Metadata.MessageID
		n.Timestamp = msg.Metadata.MessageTimestamp
		if n.Subscription.Type == "" {
			n.Subscription.Type = msg.Metadata.SubscriptionType
		}
		if n.Subscription.Version == "" {
			n.Subscription.Version = msg.Metadata.SubscriptionVersion
		}
		env.Notification = &n

	case KindRevocation:
		var r Revocation
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			return Envelope{}, fmt.Errorf("%w: revocation payload: %v", ErrMalformed, err)
		}
		if r.Subscription.Type == "" {
			r.Subscription.Type = msg.Metadata.SubscriptionType
		}
		env.Revocation = &r
	}

	return env, nil
}
