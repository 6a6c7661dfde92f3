package session

import (
	"errors"
	"fmt"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
	"github.com/brooks-builds/twitch-eventsub/internal/protocol"
)

var (
	ErrProtocol     = errors.New("protocol violation")
	ErrRevoked      = errors.New("subscription revoked")
	ErrRegistration = errors.New("subscription registration failed")
)

// ProtocolError reports an envelope that does not fit the current state,
// or one that could not be decoded at all.
type ProtocolError struct {
	State  State
	Kind   protocol.Kind
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol violation: %s (kind=%s state=%s)", e.Reason, e.Kind, e.State)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// RevokedError is returned when upstream withdraws a subscription.
// Callers typically re-authenticate rather than restart.
type RevokedError struct {
	SessionID        string
	SubscriptionID   string
	SubscriptionType string
	Status           string
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("subscription revoked: %s (%s) status=%s", e.SubscriptionType, e.SubscriptionID, e.Status)
}

func (e *RevokedError) Is(target error) bool { return target == ErrRevoked }

// RegistrationError wraps a failed registration call made during a
// handshake.
type RegistrationError struct {
	SessionID string
	Request   events.SubscriptionRequest
	Err       error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s for session %s: %v", e.Request, e.SessionID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

func (e *RegistrationError) Is(target error) bool { return target == ErrRegistration }
