package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coauthor/api/internal/logging"
	"coauthor/api/internal/review"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestLoadMigrations(t *testing.T) {
	file := func(s string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(s)} }
	cases := []struct {
		name     string
		fsys     fstest.MapFS
		versions []string
		wantErr  string
	}{
		{
			name: "ordered pairs",
			fsys: fstest.MapFS{
				"0002_versions.up.sql":    file("CREATE TABLE v ();"),
				"0002_versions.down.sql":  file("DROP TABLE v;"),
				"0001_documents.up.sql":   file("CREATE TABLE d ();"),
				"0001_documents.down.sql": file("DROP TABLE d;"),
				"README.md":               file("notes"),
				"0003_later/x.up.sql":     file("SELECT 1;"),
			},
			versions: []string{"0001_documents", "0002_versions"},
		},
		{
			name: "missing down",
			fsys: fstest.MapFS{
				"0001_documents.up.sql": file("CREATE TABLE d ();"),
			},
			wantErr: "migration 0001_documents needs non-empty up and down files",
		},
		{
			name: "blank up",
			fsys: fstest.MapFS{
				"0001_documents.up.sql":   file("  \n"),
				"0001_documents.down.sql": file("DROP TABLE d;"),
			},
			wantErr: "0001_documents",
		},
		{
			name:     "empty",
			fsys:     fstest.MapFS{},
			versions: []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LoadMigrations(tc.fsys)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("load migrations: %v", err)
			}
			versions := make([]string, 0, len(got))
			for _, m := range got {
				versions = append(versions, m.Version)
			}
			assert.Equal(t, tc.versions, versions)
		})
	}
}

func TestShippedMigrationsLoad(t *testing.T) {
	got, err := LoadMigrations(os.DirFS(migrationsDir))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0001_documents", got[0].Version)
	assert.Contains(t, got[0].Up, "documents")
	assert.Equal(t, "0002_published_versions", got[1].Version)
}

func TestMigratorRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("COAUTHOR_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("COAUTHOR_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolOptions{MaxOpenConns: 4})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, resetPublicSchema(ctx, db))

	m, err := NewMigrator(db, os.DirFS(migrationsDir), logging.Nop())
	require.NoError(t, err)

	applied, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_documents", "0002_published_versions"}, applied)
	applied, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	// The revision check on documents survives a partial rollback.
	s := NewPostgresStore(db)
	doc := sampleDocument(t, "doc_roundtrip")
	require.NoError(t, s.Create(ctx, doc))

	reverted, err := m.Down(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_published_versions"}, reverted)
	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_published_versions"}, pending)

	stale, err := s.Load(ctx, doc.ID)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, doc))
	require.ErrorIs(t, s.Save(ctx, stale), review.ErrStaleVersion)

	_, err = m.Up(ctx)
	require.NoError(t, err)
	reverted, err = m.Down(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_published_versions", "0001_documents"}, reverted)

	var exists bool
	require.NoError(t, db.QueryRowContext(ctx, `SELECT to_regclass('public.documents') IS NOT NULL`).Scan(&exists))
	assert.False(t, exists)

	applied, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}
