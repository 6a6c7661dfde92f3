// Package config loads listener settings: a YAML file over defaults, then
// .env files and environment variables on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/brooks-builds/twitch-eventsub/internal/events"
	"github.com/brooks-builds/twitch-eventsub/internal/helix"
	"github.com/brooks-builds/twitch-eventsub/internal/transport"
)

type Config struct {
	Twitch        TwitchConfig         `yaml:"twitch"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Transport     TransportConfig      `yaml:"transport"`
	Status        StatusConfig         `yaml:"status"`
	Journal       JournalConfig        `yaml:"journal"`
	Console       ConsoleConfig        `yaml:"console"`
	Log           LogConfig            `yaml:"log"`
	Mock          MockConfig           `yaml:"mock"`
}

type TwitchConfig struct {
	ClientID      string `yaml:"client_id"`
	AccessToken   string `yaml:"access_token"`
	Username      string `yaml:"username"`
	BroadcasterID string `yaml:"broadcaster_id"` // skips the user lookup when set
	EventSubURL   string `yaml:"eventsub_url"`
	HelixBaseURL  string `yaml:"helix_base_url"`
}

type SubscriptionConfig struct {
	Type    string `yaml:"type"`
	Version string `yaml:"version"` // empty selects the catalog default
}

type TransportConfig struct {
	MaxMessageSize   int64         `yaml:"max_message_size"`
	MaxFrameSize     int64         `yaml:"max_frame_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	KeepaliveGrace   time.Duration `yaml:"keepalive_grace"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Token   string `yaml:"token"`
}

type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MockConfig struct {
	Addr          string        `yaml:"addr"`
	Keepalive     time.Duration `yaml:"keepalive"`
	EventInterval time.Duration `yaml:"event_interval"`
	MaxConns      int           `yaml:"max_connections"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Twitch: TwitchConfig{
			EventSubURL:  transport.DefaultURL,
			HelixBaseURL: helix.DefaultBaseURL,
		},
		Subscriptions: []SubscriptionConfig{
			{Type: string(events.ChannelPointsRedemptionAdd), Version: "1"},
		},
		Transport: TransportConfig{
			MaxMessageSize:   transport.DefaultMaxMessageSize,
			MaxFrameSize:     transport.DefaultMaxFrameSize,
			HandshakeTimeout: 10 * time.Second,
			KeepaliveGrace:   5 * time.Second,
		},
		Status: StatusConfig{
			Addr: "127.0.0.1:8089",
		},
		Console: ConsoleConfig{Enabled: true},
		Log:     LogConfig{Level: "info"},
		Mock: MockConfig{
			Addr:          "127.0.0.1:8090",
			Keepalive:     10 * time.Second,
			EventInterval: 3 * time.Second,
			MaxConns:      3,
		},
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, returning the defaults when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped and existing variables are never overwritten.
func LoadEnvFiles(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

var envKeys = map[string]string{
	"twitch.client_id":      "TWITCH_CLIENT_ID",
	"twitch.access_token":   "TWITCH_ACCESS_TOKEN",
	"twitch.username":       "TWITCH_USERNAME",
	"twitch.broadcaster_id": "TWITCH_BROADCASTER_ID",
	"twitch.eventsub_url":   "EVENTSUB_URL",
	"twitch.helix_base_url": "HELIX_BASE_URL",
	"status.token":          "EVENTSUB_STATUS_TOKEN",
	"journal.path":          "EVENTSUB_JOURNAL",
	"log.level":             "LOG_LEVEL",
	"log.format":            "LOG_FORMAT",
}

// NewViper returns a viper instance bound to the supported environment
// variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for key, env := range envKeys {
		_ = v.BindEnv(key, env)
	}
	return v
}

// ApplyEnv overrides fields that are set in v.
func (c *Config) ApplyEnv(v *viper.Viper) {
	set := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	set("twitch.client_id", &c.Twitch.ClientID)
	set("twitch.access_token", &c.Twitch.AccessToken)
	set("twitch.username", &c.Twitch.Username)
	set("twitch.broadcaster_id", &c.Twitch.BroadcasterID)
	set("twitch.eventsub_url", &c.Twitch.EventSubURL)
	set("twitch.helix_base_url", &c.Twitch.HelixBaseURL)
	set("status.token", &c.Status.Token)
	set("journal.path", &c.Journal.Path)
	set("log.level", &c.Log.Level)
	set("log.format", &c.Log.Format)
}

// Validate reports every problem that would stop a listener from starting.
func (c *Config) Validate() error {
	var errs []error
	if c.Twitch.ClientID == "" {
		errs = append(errs, errors.New("twitch.client_id (TWITCH_CLIENT_ID) is required"))
	}
	if c.Twitch.AccessToken == "" {
		errs = append(errs, errors.New("twitch.access_token (TWITCH_ACCESS_TOKEN) is required"))
	}
	if c.Twitch.Username == "" && c.Twitch.BroadcasterID == "" {
		errs = append(errs, errors.New("one of twitch.username or twitch.broadcaster_id is required"))
	}
	if len(c.Subscriptions) == 0 {
		errs = append(errs, errors.New("at least one subscription is required"))
	}
	for _, s := range c.Subscriptions {
		if _, err := events.NewSubscriptionRequest(events.Type(s.Type), s.Version, "validate"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Transport.MaxFrameSize > c.Transport.MaxMessageSize {
		errs = append(errs, fmt.Errorf("transport.max_frame_size %d exceeds max_message_size %d",
			c.Transport.MaxFrameSize, c.Transport.MaxMessageSize))
	}
	return errors.Join(errs...)
}

// SubscriptionRequests builds the request list scoped to principalID.
func (c *Config) SubscriptionRequests(principalID string) ([]events.SubscriptionRequest, error) {
	out := make([]events.SubscriptionRequest, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		req, err := events.NewSubscriptionRequest(events.Type(s.Type), s.Version, principalID)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// TransportSettings returns the connection settings for the transport
// manager.
func (c *Config) TransportSettings() transport.Config {
	return transport.Config{
		URL:              c.Twitch.EventSubURL,
		MaxMessageSize:   c.Transport.MaxMessageSize,
		MaxFrameSize:     c.Transport.MaxFrameSize,
		HandshakeTimeout: c.Transport.HandshakeTimeout,
	}
}
