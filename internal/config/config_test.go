package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
	"github.com/brooks-builds/twitch-eventsub/internal/helix"
	"github.com/brooks-builds/twitch-eventsub/internal/transport"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "config.yaml", `
twitch:
  client_id: abc
  username: brookzerker
subscriptions:
  - type: channel.follow
  - type: channel.raid
    version: "1"
transport:
  keepalive_grace: 2s
status:
  enabled: true
  addr: ":9000"
journal:
  path: /tmp/events.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Twitch.ClientID)
	assert.Equal(t, "brookzerker", cfg.Twitch.Username)
	require.Len(t, cfg.Subscriptions, 2)
	assert.Equal(t, "channel.follow", cfg.Subscriptions[0].Type)
	assert.Equal(t, 2*time.Second, cfg.Transport.KeepaliveGrace)
	assert.True(t, cfg.Status.Enabled)
	assert.Equal(t, ":9000", cfg.Status.Addr)
	assert.Equal(t, "/tmp/events.db", cfg.Journal.Path)

	// Defaults survive for unspecified fields.
	assert.Equal(t, transport.DefaultURL, cfg.Twitch.EventSubURL)
	assert.Equal(t, int64(transport.DefaultMaxMessageSize), cfg.Transport.MaxMessageSize)
	assert.Equal(t, 10*time.Second, cfg.Transport.HandshakeTimeout)
	assert.True(t, cfg.Console.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	require.Len(t, cfg.Subscriptions, 1)
	assert.Equal(t, string(events.ChannelPointsRedemptionAdd), cfg.Subscriptions[0].Type)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", ":::not valid yaml")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "env-client")
	t.Setenv("TWITCH_ACCESS_TOKEN", "env-token")
	t.Setenv("TWITCH_BROADCASTER_ID", "777")
	t.Setenv("EVENTSUB_URL", "ws://127.0.0.1:8090/ws")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Default()
	cfg.Twitch.ClientID = "file-client"
	cfg.Twitch.Username = "kept"
	cfg.ApplyEnv(NewViper())

	assert.Equal(t, "env-client", cfg.Twitch.ClientID)
	assert.Equal(t, "env-token", cfg.Twitch.AccessToken)
	assert.Equal(t, "777", cfg.Twitch.BroadcasterID)
	assert.Equal(t, "kept", cfg.Twitch.Username)
	assert.Equal(t, "ws://127.0.0.1:8090/ws", cfg.Twitch.EventSubURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, helix.DefaultBaseURL, cfg.Twitch.HelixBaseURL)
}

func TestLoadEnvFiles(t *testing.T) {
	path := writeFile(t, ".env", "EVENTSUB_TEST_FROM_FILE=hello\nEVENTSUB_TEST_PRESET=file\n")
	t.Setenv("EVENTSUB_TEST_PRESET", "process")
	t.Setenv("EVENTSUB_TEST_FROM_FILE", "")
	require.NoError(t, os.Unsetenv("EVENTSUB_TEST_FROM_FILE"))

	LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env"), path)

	assert.Equal(t, "hello", os.Getenv("EVENTSUB_TEST_FROM_FILE"))
	assert.Equal(t, "process", os.Getenv("EVENTSUB_TEST_PRESET"))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Twitch.ClientID = "cid"
		cfg.Twitch.AccessToken = "tok"
		cfg.Twitch.Username = "someone"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no client id", func(c *Config) { c.Twitch.ClientID = "" }, "client_id"},
		{"no token", func(c *Config) { c.Twitch.AccessToken = "" }, "access_token"},
		{"no principal", func(c *Config) { c.Twitch.Username = "" }, "username"},
		{"no subscriptions", func(c *Config) { c.Subscriptions = nil }, "at least one subscription"},
		{"unknown type", func(c *Config) { c.Subscriptions = []SubscriptionConfig{{Type: "channel.nope"}} }, "channel.nope"},
		{"unknown version", func(c *Config) { c.Subscriptions = []SubscriptionConfig{{Type: "channel.follow", Version: "9"}} }, "version"},
		{"frame over message", func(c *Config) { c.Transport.MaxFrameSize = c.Transport.MaxMessageSize + 1 }, "max_frame_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSubscriptionRequests(t *testing.T) {
	cfg := Default()
	cfg.Subscriptions = []SubscriptionConfig{{Type: "channel.follow"}, {Type: "stream.online", Version: "1"}}

	reqs, err := cfg.SubscriptionRequests("1234")
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, events.ChannelFollow, reqs[0].Type)
	assert.Equal(t, "2", reqs[0].Version)
	assert.Equal(t, "1234", reqs[1].BroadcasterUserID)

	_, err = cfg.SubscriptionRequests("")
	assert.Error(t, err)
}

func TestTransportSettings(t *testing.T) {
	cfg := Default()
	cfg.Twitch.EventSubURL = "ws://localhost/ws"
	ts := cfg.TransportSettings()
	assert.Equal(t, "ws://localhost/ws", ts.URL)
	assert.Equal(t, cfg.Transport.MaxFrameSize, ts.MaxFrameSize)
}
