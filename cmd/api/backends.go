package main

import (
	"context"
	"database/sql"
	"fmt"

	"coauthor/api/internal/app"
	"coauthor/api/internal/config"
	"coauthor/api/internal/logging"
	"coauthor/api/internal/store"
)

// persistence holds the document store selected by the configuration. db is
// nil when documents are kept in memory.
type persistence struct {
	store app.Persistence
	db    *sql.DB
}

func (p persistence) Close() {
	if p.db != nil {
		_ = p.db.Close()
	}
}

func openPersistence(ctx context.Context, cfg config.Config, logger logging.Logger) (persistence, error) {
	if cfg.DatabaseURL == "" {
		logger.Warnw("no database configured, documents are kept in memory")
		mem, err := store.NewMemoryStore()
		if err != nil {
			return persistence{}, err
		}
		return persistence{store: mem}, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return persistence{}, err
	}
	return persistence{store: store.NewPostgresStore(db), db: db}, nil
}

// openDatabase connects to Postgres and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return db, nil
}

func connectDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: cfg.DatabaseMaxConns})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}
