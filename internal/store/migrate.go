package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"slices"
	"strings"

	"coauthor/api/internal/logging"
)

var migrationFile = regexp.MustCompile(`^(\d+_[a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one schema step of the document database. Version is the
// file stem, e.g. "0001_documents", and orders the steps.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// LoadMigrations reads the NNNN_name.up.sql and NNNN_name.down.sql pairs at
// the root of fsys in version order. Other files are ignored. A step without
// both directions is an error.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		match := migrationFile.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		contents, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		m := byVersion[match[1]]
		if m == nil {
			m = &Migration{Version: match[1]}
			byVersion[match[1]] = m
		}
		if match[2] == "up" {
			m.Up = string(contents)
		} else {
			m.Down = string(contents)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	var errs []error
	for _, m := range byVersion {
		if strings.TrimSpace(m.Up) == "" || strings.TrimSpace(m.Down) == "" {
			errs = append(errs, fmt.Errorf("migration %s needs non-empty up and down files", m.Version))
			continue
		}
		out = append(out, *m)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}

// Migrator moves the document database between schema versions and records
// applied steps in schema_migrations.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	logger     logging.Logger
}

func NewMigrator(db *sql.DB, fsys fs.FS, logger logging.Logger) (*Migrator, error) {
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Migrator{db: db, migrations: migrations, logger: logger}, nil
}

// ApplyMigrations brings the database at db up to the newest step in
// migrationsDir.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	m, err := NewMigrator(db, os.DirFS(migrationsDir), logging.New("migrate"))
	if err != nil {
		return err
	}
	_, err = m.Up(ctx)
	return err
}

// Up applies every pending step in version order and returns the versions
// applied. Each step runs in its own transaction.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	pending, err := m.Pending(ctx)
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0, len(pending))
	for _, version := range pending {
		step := m.migration(version)
		err := m.exec(ctx, version, step.Up, `INSERT INTO schema_migrations(version) VALUES($1)`)
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", version, err)
		}
		m.logger.Infow("migration applied", "version", version)
		applied = append(applied, version)
	}
	return applied, nil
}

// Down reverts up to steps of the applied steps, newest first, and returns
// the versions reverted. A steps value of zero or less reverts everything.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(applied)
	if steps > 0 && steps < len(applied) {
		applied = applied[:steps]
	}

	reverted := make([]string, 0, len(applied))
	for _, version := range applied {
		step := m.migration(version)
		if step == nil {
			return reverted, fmt.Errorf("revert migration %s: no down file", version)
		}
		err := m.exec(ctx, version, step.Down, `DELETE FROM schema_migrations WHERE version = $1`)
		if err != nil {
			return reverted, fmt.Errorf("revert migration %s: %w", version, err)
		}
		m.logger.Infow("migration reverted", "version", version)
		reverted = append(reverted, version)
	}
	return reverted, nil
}

// Pending lists the known steps not yet applied, in version order.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, step := range m.migrations {
		if !slices.Contains(applied, step.Version) {
			pending = append(pending, step.Version)
		}
	}
	return pending, nil
}

func (m *Migrator) migration(version string) *Migration {
	i := slices.IndexFunc(m.migrations, func(step Migration) bool { return step.Version == version })
	if i < 0 {
		return nil
	}
	return &m.migrations[i]
}

// exec runs a step's SQL and its bookkeeping statement in one transaction.
func (m *Migrator) exec(ctx context.Context, version, script, record string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// applied returns the recorded versions in version order, creating the
// bookkeeping table on first use.
func (m *Migrator) applied(ctx context.Context) ([]string, error) {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
