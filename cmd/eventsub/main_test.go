package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brooks-builds/twitch-eventsub/internal/config"
	"github.com/brooks-builds/twitch-eventsub/internal/helix"
	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/mock"
)

func TestVersion(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "eventsub dev")
}

func TestResolvePrincipal(t *testing.T) {
	up := httptest.NewServer(mock.NewServer(mock.Config{UserID: "77", UserLogin: "streamer"}).Handler())
	t.Cleanup(up.Close)
	client := helix.NewClient(up.URL, "client", "token")
	log := logging.NewTestLogger(t)

	cfg := config.Default()
	cfg.Twitch.Username = "streamer"
	id, err := resolvePrincipal(context.Background(), client, cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "77", id)

	cfg.Twitch.BroadcasterID = "99"
	id, err = resolvePrincipal(context.Background(), client, cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "99", id)

	cfg.Twitch.BroadcasterID = ""
	cfg.Twitch.Username = "nobody"
	_, err = resolvePrincipal(context.Background(), client, cfg, log)
	assert.ErrorIs(t, err, helix.ErrUserNotFound)
}

func TestInvalidConfig(t *testing.T) {
	for _, k := range []string{"TWITCH_CLIENT_ID", "TWITCH_ACCESS_TOKEN", "TWITCH_USERNAME", "TWITCH_BROADCASTER_ID"} {
		t.Setenv(k, "")
	}
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", "", "--env-file", ""})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWITCH_CLIENT_ID")
}
