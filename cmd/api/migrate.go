package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"coauthor/api/internal/logging"
	"coauthor/api/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var (
		down   int
		status bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, revert or list database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("migrate needs a database url")
			}
			db, err := connectDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			logger := logging.New("migrate", "dir", cfg.MigrationsDir)
			m, err := store.NewMigrator(db, os.DirFS(cfg.MigrationsDir), logger)
			if err != nil {
				return err
			}
			switch {
			case status:
				pending, err := m.Pending(cmd.Context())
				if err != nil {
					return err
				}
				logger.Infow("migration status", "pending", pending)
			case down > 0:
				reverted, err := m.Down(cmd.Context(), down)
				if err != nil {
					return err
				}
				logger.Infow("migrations reverted", "count", len(reverted))
			default:
				applied, err := m.Up(cmd.Context())
				if err != nil {
					return err
				}
				logger.Infow("migrations applied", "count", len(applied))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "Revert this many of the newest applied migrations")
	cmd.Flags().BoolVar(&status, "status", false, "List pending migrations without applying them")
	return cmd
}
