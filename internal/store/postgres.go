package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"coauthor/api/internal/review"
)

const pgUniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Create inserts a new document at revision 1.
func (s *PostgresStore) Create(ctx context.Context, doc *review.Document) error {
	payload, err := encodeDocument(doc, 1)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, doc_type, status, current_version, revision, previous_version_id, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, NULLIF($6, ''), $7, $8, $9)
	`, doc.ID, doc.Title, doc.Type, string(doc.Status), doc.CurrentVersion, doc.PreviousVersionID, payload, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%s: %w", doc.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	doc.Revision = 1
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, documentID string) (*review.Document, error) {
	var (
		payload  []byte
		revision int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, revision FROM documents WHERE id=$1`, documentID).Scan(&payload, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", documentID, review.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return decodeDocument(payload, revision)
}

// Save writes doc if the stored revision still equals doc.Revision and then
// advances doc.Revision. A concurrent writer makes it fail with
// *review.StaleVersionError.
func (s *PostgresStore) Save(ctx context.Context, doc *review.Document) error {
	next := doc.Revision + 1
	payload, err := encodeDocument(doc, next)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$3, doc_type=$4, status=$5, current_version=$6, revision=$7, payload=$8, updated_at=$9
		WHERE id=$1 AND revision=$2
	`, doc.ID, doc.Revision, doc.Title, doc.Type, string(doc.Status), doc.CurrentVersion, next, payload, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if affected == 0 {
		var actual int64
		err := s.db.QueryRowContext(ctx, `SELECT revision FROM documents WHERE id=$1`, doc.ID).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("document %s: %w", doc.ID, review.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read document revision: %w", err)
		}
		return &review.StaleVersionError{DocumentID: doc.ID, Expected: doc.Revision, Actual: actual}
	}
	doc.Revision = next
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, doc_type, status, current_version, revision, updated_at
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentSummary, 0)
	for rows.Next() {
		var item DocumentSummary
		if err := rows.Scan(&item.ID, &item.Title, &item.Type, &item.Status, &item.CurrentVersion, &item.Revision, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RecordPublishedVersion(ctx context.Context, v PublishedVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO published_versions (document_id, version, commit_hash, published_by, published_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, version) DO NOTHING
	`, v.DocumentID, v.Version, v.CommitHash, v.PublishedBy, v.PublishedAt)
	if err != nil {
		return fmt.Errorf("record published version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPublishedVersions(ctx context.Context, documentID string) ([]PublishedVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version, commit_hash, published_by, published_at
		FROM published_versions
		WHERE document_id=$1
		ORDER BY version DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list published versions: %w", err)
	}
	defer rows.Close()

	items := make([]PublishedVersion, 0)
	for rows.Next() {
		var item PublishedVersion
		if err := rows.Scan(&item.DocumentID, &item.Version, &item.CommitHash, &item.PublishedBy, &item.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan published version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published versions: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
