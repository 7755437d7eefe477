package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"coauthor/api/internal/notify"
)

func newInvitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invites",
		Short: "Inspect invitation notices published to Redis",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "watch",
			Short: "Print invitation notices as they are published",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := openRedisNotifier()
				if err != nil {
					return err
				}
				defer n.Close()

				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				notices, err := n.Subscribe(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for notice := range notices {
					if err := enc.Encode(notice); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show [invitation-id]",
			Short: "Print a stored invitation notice",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := openRedisNotifier()
				if err != nil {
					return err
				}
				defer n.Close()

				notice, err := n.LookupInvite(cmd.Context(), args[0])
				if errors.Is(err, notify.ErrInviteNotFound) {
					return fmt.Errorf("invitation %s not found or expired", args[0])
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(notice)
			},
		},
	)
	return cmd
}

func openRedisNotifier() (*notify.RedisNotifier, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("no redis url configured")
	}
	return notify.NewRedisNotifier(cfg.RedisURL, cfg.InviteTTL)
}
