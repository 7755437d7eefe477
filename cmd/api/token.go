package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"coauthor/api/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		authorID string
		name     string
		email    string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an author",
		RunE: func(cmd *cobra.Command, args []string) error {
			if authorID == "" {
				return errors.New("--author is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, claims, err := auth.Issue([]byte(cfg.TokenSecret), authorID, name, email, cfg.TokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at unix %d\n", claims.Exp)
			return nil
		},
	}
	cmd.Flags().StringVar(&authorID, "author", "", "Author id")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	return cmd
}
