package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-memdb"

	"coauthor/api/internal/review"
)

var (
	tblDocuments = "documents"
	tblVersions  = "published_versions"
)

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblDocuments: {
			Name: tblDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"status": {
					Name:    "status",
					Indexer: &memdb.StringFieldIndex{Field: "Status"},
				},
			},
		},
		tblVersions: {
			Name: tblVersions,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "DocumentID"},
							&memdb.IntFieldIndex{Field: "Version"},
						},
					},
				},
				"document_id": {
					Name:    "document_id",
					Indexer: &memdb.StringFieldIndex{Field: "DocumentID"},
				},
			},
		},
	},
}

// documentRecord is a stored document. Payload is the same JSON the Postgres
// store keeps, so both stores exercise the same codec.
type documentRecord struct {
	ID        string
	Status    string
	Revision  int64
	UpdatedAt time.Time
	Payload   []byte
}

// MemoryStore keeps documents in an in-process go-memdb database. It is used
// when no database URL is configured and in tests.
type MemoryStore struct {
	db *memdb.MemDB
}

func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

func (s *MemoryStore) Create(_ context.Context, doc *review.Document) error {
	payload, err := encodeDocument(doc, 1)
	if err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tblDocuments, "id", doc.ID)
	if err != nil {
		return fmt.Errorf("find document by id: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%s: %w", doc.ID, ErrDuplicate)
	}
	rec := &documentRecord{ID: doc.ID, Status: string(doc.Status), Revision: 1, UpdatedAt: doc.UpdatedAt, Payload: payload}
	if err := txn.Insert(tblDocuments, rec); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	txn.Commit()

	doc.Revision = 1
	return nil
}

func (s *MemoryStore) Load(_ context.Context, documentID string) (*review.Document, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, "id", documentID)
	if err != nil {
		return nil, fmt.Errorf("find document by id: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, review.ErrNotFound)
	}
	rec := raw.(*documentRecord)
	return decodeDocument(rec.Payload, rec.Revision)
}

// Save writes doc if the stored revision still equals doc.Revision and then
// advances doc.Revision.
func (s *MemoryStore) Save(_ context.Context, doc *review.Document) error {
	next := doc.Revision + 1
	payload, err := encodeDocument(doc, next)
	if err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, "id", doc.ID)
	if err != nil {
		return fmt.Errorf("find document by id: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("document %s: %w", doc.ID, review.ErrNotFound)
	}
	if actual := raw.(*documentRecord).Revision; actual != doc.Revision {
		return &review.StaleVersionError{DocumentID: doc.ID, Expected: doc.Revision, Actual: actual}
	}
	rec := &documentRecord{ID: doc.ID, Status: string(doc.Status), Revision: next, UpdatedAt: doc.UpdatedAt, Payload: payload}
	if err := txn.Insert(tblDocuments, rec); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	txn.Commit()

	doc.Revision = next
	return nil
}

// ListDocuments returns summaries ordered by most recent update.
func (s *MemoryStore) ListDocuments(_ context.Context) ([]DocumentSummary, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblDocuments, "id")
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	items := make([]DocumentSummary, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*documentRecord)
		doc, err := decodeDocument(rec.Payload, rec.Revision)
		if err != nil {
			return nil, err
		}
		items = append(items, summarize(doc))
	}
	slices.SortStableFunc(items, func(a, b DocumentSummary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return items, nil
}

func (s *MemoryStore) RecordPublishedVersion(_ context.Context, v PublishedVersion) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tblVersions, "id", v.DocumentID, v.Version)
	if err != nil {
		return fmt.Errorf("find published version: %w", err)
	}
	if existing != nil {
		return nil
	}
	if err := txn.Insert(tblVersions, &v); err != nil {
		return fmt.Errorf("record published version: %w", err)
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) ListPublishedVersions(_ context.Context, documentID string) ([]PublishedVersion, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblVersions, "document_id", documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch published versions: %w", err)
	}
	items := make([]PublishedVersion, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		items = append(items, *raw.(*PublishedVersion))
	}
	slices.SortFunc(items, func(a, b PublishedVersion) int { return b.Version - a.Version })
	return items, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
