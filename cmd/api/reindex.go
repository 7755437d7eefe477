package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"coauthor/api/internal/logging"
	"coauthor/api/internal/review"
	"coauthor/api/internal/search"
)

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every stored document to Meilisearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.MeiliURL == "" || cfg.DatabaseURL == "" {
				return errors.New("reindex needs a database url and a meilisearch url")
			}
			logger := logging.New("reindex")
			ctx := cmd.Context()

			persist, err := openPersistence(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer persist.Close()

			meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
			defer meili.Close()
			if !meili.Healthy() {
				return fmt.Errorf("meilisearch at %s is unavailable", cfg.MeiliURL)
			}

			summaries, err := persist.store.ListDocuments(ctx)
			if err != nil {
				return err
			}
			docs := make([]*review.Document, 0, len(summaries))
			for _, s := range summaries {
				doc, err := persist.store.Load(ctx, s.ID)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			search.NewService(meili, nil, logger).ReindexAll(ctx, docs)
			logger.Infow("reindexed documents", "count", len(docs))
			return nil
		},
	}
}
