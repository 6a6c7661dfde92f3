package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const welcomeJSON = `{
  "metadata": {
    "message_id": "96a3f3b5-5dec-4eed-908e-e11ee657416c",
    "message_type": "session_welcome",
    "message_timestamp": "2023-07-19T14:56:51.634234626Z"
  },
  "payload": {
    "session": {
      "id": "AQoQILE98gtqShGmLD7AM6yJThAB",
      "status": "connected",
      "connected_at": "2023-07-19T14:56:51.616329898Z",
      "keepalive_timeout_seconds": 10,
      "reconnect_url": null
    }
  }
}`

const notificationJSON = `{
  "metadata": {
    "message_id": "befa7b53-d79d-478f-86b9-120f112b044e",
    "message_type": "notification",
    "message_timestamp": "2022-11-16T10:11:12.464757833Z",
    "subscription_type": "channel.follow",
    "subscription_version": "2"
  },
  "payload": {
    "subscription": {
      "id": "f1c2a387-161a-49f9-a165-0f21d7a4e1c4",
      "status": "enabled",
      "type": "channel.follow",
      "version": "2",
      "cost": 1,
      "condition": {"broadcaster_user_id": "12826", "moderator_user_id": "12826"},
      "transport": {"method": "websocket", "session_id": "AQoQexAWVYKSTIu4ec_2VAxyuhAB"},
      "created_at": "2022-11-16T10:11:12.464757833Z"
    },
    "event": {"user_id": "1337", "user_login": "awesome_user", "broadcaster_user_id": "12826"}
  }
}`

func TestDecodeWelcome(t *testing.T) {
	env, err := Decode(Frame{Type: TextFrame, Data: []byte(welcomeJSON)})
	require.NoError(t, err)

	assert.Equal(t, KindWelcome, env.Kind)
	require.NotNil(t, env.Session)
	assert.Equal(t, "AQoQILE98gtqShGmLD7AM6yJThAB", env.Session.ID)
	assert.Equal(t, 10*time.Second, env.Session.KeepaliveTimeout())
	assert.Empty(t, env.Session.AlternateURL())
	assert.Nil(t, env.Notification)
}

func TestDecodeNotification(t *testing.T) {
	env, err := Decode(Frame{Type: TextFrame, Data: []byte(notificationJSON)})
	require.NoError(t, err)

	assert.Equal(t, KindNotification, env.Kind)
	require.NotNil(t, env.Notification)
	n := env.Notification
	assert.Equal(t, "befa7b53-d79d-478f-86b9-120f112b044e", n.MessageID)
	assert.Equal(t, "channel.follow", n.Subscription.Type)
	assert.Equal(t, "2", n.Subscription.Version)
	assert.Equal(t, "12826", n.Subscription.Condition["broadcaster_user_id"])
	assert.JSONEq(t, `{"user_id": "1337", "user_login": "awesome_user", "broadcaster_user_id": "12826"}`, string(n.Event))
}

func TestDecodeReconnect(t *testing.T) {
	raw := `{"metadata":{"message_id":"84c1e79a","message_type":"session_reconnect","message_timestamp":"2022-11-18T09:10:11.634234626Z"},
	"payload":{"session":{"id":"AQoQexAWVYKSTIu4ec_2VAxyuhAB","status":"reconnecting","keepalive_timeout_seconds":null,
	"reconnect_url":"wss://eventsub.wss.twitch.tv?...","connected_at":"2022-11-16T10:11:12.634234626Z"}}}`

	env, err := Decode(Frame{Type: TextFrame, Data: []byte(raw)})
	require.NoError(t, err)
	assert.Equal(t, KindReconnect, env.Kind)
	assert.Equal(t, "wss://eventsub.wss.twitch.tv?...", env.Session.AlternateURL())
	assert.Zero(t, env.Session.KeepaliveTimeout())
}

func TestDecodeRevocation(t *testing.T) {
	raw := `{"metadata":{"message_id":"84c1e79a","message_type":"revocation","message_timestamp":"2022-11-16T10:11:12.464757833Z",
	"subscription_type":"channel.follow","subscription_version":"1"},
	"payload":{"subscription":{"id":"f1c2a387","status":"authorization_revoked","type":"channel.follow","version":"1","cost":1,
	"condition":{"broadcaster_user_id":"12826"},"transport":{"method":"websocket","session_id":"AQoQexAWVYKSTIu4ec_2VAxyuhAB"},
	"created_at":"2022-11-16T10:11:12.464757833Z"}}}`

	env, err := Decode(Frame{Type: TextFrame, Data: []byte(raw)})
	require.NoError(t, err)
	assert.Equal(t, KindRevocation, env.Kind)
	require.NotNil(t, env.Revocation)
	assert.Equal(t, "authorization_revoked", env.Revocation.Subscription.Status)
}

func TestDecodeKeepaliveAndUnknown(t *testing.T) {
	env, err := Decode(Frame{Type: TextFrame, Data: []byte(`{"metadata":{"message_id":"a","message_type":"session_keepalive","message_timestamp":"2023-07-19T10:11:12.634234626Z"},"payload":{}}`)})
	require.NoError(t, err)
	assert.Equal(t, KindKeepalive, env.Kind)

	env, err = Decode(Frame{Type: TextFrame, Data: []byte(`{"metadata":{"message_id":"b","message_type":"session_teleport"},"payload":{"x":1}}`)})
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, env.Kind)

	env, err = Decode(Frame{Type: BinaryFrame, Data: []byte{0x01, 0x02}})
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, env.Kind)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"metadata":`},
		{"no message type", `{"metadata":{},"payload":{}}`},
		{"welcome without session id", `{"metadata":{"message_type":"session_welcome"},"payload":{"session":{}}}`},
		{"notification payload not object", `{"metadata":{"message_type":"notification"},"payload":[1,2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(Frame{Type: TextFrame, Data: []byte(tt.data)})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "welcome", KindWelcome.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
