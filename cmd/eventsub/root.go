package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/brooks-builds/twitch-eventsub/internal/config"
	"github.com/brooks-builds/twitch-eventsub/internal/dispatch"
	"github.com/brooks-builds/twitch-eventsub/internal/helix"
	"github.com/brooks-builds/twitch-eventsub/internal/listener"
	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/observability"
	"github.com/brooks-builds/twitch-eventsub/internal/sink"
	"github.com/brooks-builds/twitch-eventsub/internal/status"
)

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
	journal    string
	status     bool
	quiet      bool
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "eventsub",
		Short: "Listen to Twitch EventSub over websocket",
		Long: `eventsub keeps a websocket session with Twitch EventSub open, registers
the configured subscriptions for the broadcaster and prints every event
it receives.

Credentials come from the environment (TWITCH_CLIENT_ID, TWITCH_ACCESS_TOKEN,
TWITCH_USERNAME or TWITCH_BROADCASTER_ID), a .env file or the config file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "config.yaml", "path to config file (missing file uses defaults)")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&f.journal, "journal", "", "SQLite file to journal notifications into")
	cmd.Flags().BoolVar(&f.status, "status", false, "serve the status API")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not print events")

	cmd.AddCommand(newMockCmd(f), newVersionCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command, f *rootFlags) (*config.Config, error) {
	config.LoadEnvFiles(f.envFile)

	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(config.NewViper())

	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if cmd.Flags().Changed("journal") {
		cfg.Journal.Path = f.journal
	}
	if cmd.Flags().Changed("status") {
		cfg.Status.Enabled = f.status
	}
	if f.quiet {
		cfg.Console.Enabled = false
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	log := *logging.Default()

	provider := observability.Setup()
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("shutdown telemetry")
		}
	}()
	rec := observability.NewRecorder()

	client := helix.NewClient(cfg.Twitch.HelixBaseURL, cfg.Twitch.ClientID, cfg.Twitch.AccessToken)
	principal, err := resolvePrincipal(ctx, client, cfg, log)
	if err != nil {
		return err
	}
	requests, err := cfg.SubscriptionRequests(principal)
	if err != nil {
		return err
	}

	registry := dispatch.New(dispatch.WithLogger(log), dispatch.WithRecorder(rec))
	l := listener.New(listener.Config{
		Transport:      cfg.TransportSettings(),
		Requests:       requests,
		KeepaliveGrace: cfg.Transport.KeepaliveGrace,
	}, client, registry, listener.WithLogger(log), listener.WithRecorder(rec))

	if cfg.Console.Enabled {
		registry.HandleAny(sink.NewConsole(os.Stdout))
	}

	statusOpts := []status.Option{
		status.WithToken(cfg.Status.Token),
		status.WithMetrics(provider),
		status.WithLogger(log),
	}
	if cfg.Journal.Path != "" {
		journal, err := sink.OpenJournal(cfg.Journal.Path, l.ID())
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		registry.HandleAny(journal)
		statusOpts = append(statusOpts, status.WithEvents(journal))
	}

	if cfg.Status.Enabled {
		srv := status.New(l, statusOpts...)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Status.Addr); err != nil {
				log.Error().Err(err).Msg("status server")
			}
		}()
	}

	err = l.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func resolvePrincipal(ctx context.Context, client *helix.Client, cfg *config.Config, log zerolog.Logger) (string, error) {
	if cfg.Twitch.BroadcasterID != "" {
		return cfg.Twitch.BroadcasterID, nil
	}
	user, err := client.UserByLogin(ctx, cfg.Twitch.Username)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", cfg.Twitch.Username, err)
	}
	log.Info().Str("login", user.Login).Str("user_id", user.ID).Msg("resolved broadcaster")
	return user.ID, nil
}
