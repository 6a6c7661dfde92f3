package helix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
)

func TestRegister(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/helix/eventsub/subscriptions", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "cid", r.Header.Get("Client-Id"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":[{"id":"sub-1","status":"enabled"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/helix/", "cid", "tok")
	req, err := events.NewSubscriptionRequest(events.ChannelFollow, "", "1234")
	require.NoError(t, err)

	require.NoError(t, c.Register(context.Background(), req, "sess-1"))
	assert.Equal(t, "channel.follow", got["type"])
	assert.Equal(t, "2", got["version"])
	assert.Equal(t, map[string]any{"broadcaster_user_id": "1234", "moderator_user_id": "1234"}, got["condition"])
	assert.Equal(t, map[string]any{"method": "websocket", "session_id": "sess-1"}, got["transport"])
}

func TestRegisterStatuses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"accepted", http.StatusAccepted, `{}`, ""},
		{"conflict is success", http.StatusConflict, `{"message":"subscription already exists"}`, ""},
		{"forbidden", http.StatusForbidden, `{"error":"Forbidden","status":403,"message":"subscription missing proper authorization"}`, "403 subscription missing proper authorization"},
		{"plain text", http.StatusTooManyRequests, "slow down\n", "429 slow down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			req, err := events.NewSubscriptionRequest(events.ChannelCheer, "", "1")
			require.NoError(t, err)
			err = NewClient(srv.URL, "cid", "tok").Register(context.Background(), req, "s")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUserByLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users", r.URL.Path)
		switch r.URL.Query().Get("login") {
		case "brookzerker":
			_, _ = w.Write([]byte(`{"data":[{"id":"1234","login":"brookzerker","display_name":"Brookzerker"}]}`))
		default:
			_, _ = w.Write([]byte(`{"data":[]}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "tok")
	u, err := c.UserByLogin(context.Background(), "brookzerker")
	require.NoError(t, err)
	assert.Equal(t, "1234", u.ID)
	assert.Equal(t, "Brookzerker", u.DisplayName)

	_, err = c.UserByLogin(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRequestHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(srv.URL, "", "").UserByLogin(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
