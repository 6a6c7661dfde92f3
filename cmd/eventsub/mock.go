package main

import (
	"github.com/spf13/cobra"

	"github.com/brooks-builds/twitch-eventsub/internal/logging"
	"github.com/brooks-builds/twitch-eventsub/internal/mock"
)

func newMockCmd(root *rootFlags) *cobra.Command {
	var (
		addr string
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a local EventSub upstream for development",
		Long: `mock serves a local stand-in for the EventSub websocket and the Helix
routes the listener uses. Point the listener at it with

  EVENTSUB_URL=ws://<addr>/ws HELIX_BASE_URL=http://<addr> eventsub

Control routes: POST /mock/notify, /mock/reconnect, /mock/revoke, /mock/drop.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Mock.Addr
			}
			srv := mock.NewServer(mock.Config{
				Keepalive:      cfg.Mock.Keepalive,
				EventInterval:  cfg.Mock.EventInterval,
				MaxConnections: cfg.Mock.MaxConns,
				UserID:         cfg.Twitch.BroadcasterID,
				UserLogin:      cfg.Twitch.Username,
				Seed:           seed,
			}, mock.WithLogger(*logging.Default()))
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "seed for generated payloads")
	return cmd
}
