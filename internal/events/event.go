package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brooks-builds/twitch-eventsub/internal/protocol"
)

var ErrUnknownType = errors.New("events: unknown subscription type")

// Event is one classified notification. Payload holds a pointer to the
// catalog struct for the type (PointsRedemption, Follow, ...), a Fields
// map for types without a dedicated struct, or the raw JSON when Type is
// Unrecognized.
type Event struct {
	Type         Type
	WireType     string
	Version      string
	MessageID    string
	Timestamp    time.Time
	Subscription protocol.Subscription
	Payload      any
	Raw          json.RawMessage

	// DecodeErr is set when a known type failed to decode and the event
	// was downgraded to Unrecognized.
	DecodeErr error
}

// Recognized reports whether the event resolved to a catalog type.
func (e Event) Recognized() bool {
	return e.Type != Unrecognized
}

// Classify resolves a notification against the catalog. It never fails:
// anything outside the catalog comes back as Unrecognized carrying the raw
// event payload.
func Classify(n protocol.Notification) Event {
	ev := Event{
		Type:         Unrecognized,
		WireType:     n.Subscription.Type,
		Version:      n.Subscription.Version,
		MessageID:    n.MessageID,
		Timestamp:    n.Timestamp,
		Subscription: n.Subscription,
		Payload:      n.Event,
		Raw:          n.Event,
	}

	t := Type(n.Subscription.Type)
	if !Known(t, n.Subscription.Version) {
		return ev
	}

	payload, err := catalog[t].decode(n.Event)
	if err != nil {
		ev.DecodeErr = fmt.Errorf("decode %s v%s: %w", t, n.Subscription.Version, err)
		return ev
	}
	ev.Type = t
	ev.Payload = payload
	return ev
}

// Classifier adapts Classify to an interface value.
type Classifier struct{}

func (Classifier) Classify(n protocol.Notification) Event { return Classify(n) }

// SubscriptionRequest declares interest in one event type for one
// principal. Values are immutable once built.
type SubscriptionRequest struct {
	Type              Type
	Version           string
	BroadcasterUserID string
}

// NewSubscriptionRequest validates t against the catalog and fills in the
// default version when version is empty.
func NewSubscriptionRequest(t Type, version, principalID string) (SubscriptionRequest, error) {
	if !Known(t, "") {
		return SubscriptionRequest{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if version == "" {
		version, _ = DefaultVersion(t)
	} else if !Known(t, version) {
		return SubscriptionRequest{}, fmt.Errorf("%w: %q version %q", ErrUnknownType, t, version)
	}
	if principalID == "" {
		return SubscriptionRequest{}, errors.New("events: empty principal id")
	}
	return SubscriptionRequest{Type: t, Version: version, BroadcasterUserID: principalID}, nil
}

// Condition builds the upstream condition object, binding every condition
// key of the type to the principal.
func (r SubscriptionRequest) Condition() map[string]string {
	keys := []string{condBroadcaster}
	if e, ok := catalog[r.Type]; ok {
		keys = e.Condition
	}
	cond := make(map[string]string, len(keys))
	for _, k := range keys {
		cond[k] = r.BroadcasterUserID
	}
	return cond
}

func (r SubscriptionRequest) String() string {
	return fmt.Sprintf("%s v%s (%s)", r.Type, r.Version, r.BroadcasterUserID)
}
