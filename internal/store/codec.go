package store

import (
	"encoding/json"
	"fmt"

	"coauthor/api/internal/blocks"
	"coauthor/api/internal/review"
)

// encodeDocument serializes doc as stored at revision. Blocks are validated
// first so invalid content never reaches storage.
func encodeDocument(doc *review.Document, revision int64) ([]byte, error) {
	if err := checkBlocks(doc); err != nil {
		return nil, err
	}
	snapshot := *doc
	snapshot.Revision = revision
	payload, err := json.Marshal(&snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	return payload, nil
}

// decodeDocument restores a stored payload and revalidates its blocks.
func decodeDocument(payload []byte, revision int64) (*review.Document, error) {
	var doc review.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc.Revision = revision
	if err := checkBlocks(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func checkBlocks(doc *review.Document) error {
	for _, b := range doc.Blocks {
		if errs := blocks.ValidateBlock(b); len(errs) > 0 {
			return fmt.Errorf("document %s block %s: %w", doc.ID, b.ID, errs)
		}
	}
	return nil
}

func summarize(doc *review.Document) DocumentSummary {
	return DocumentSummary{
		ID:             doc.ID,
		Title:          doc.Title,
		Type:           doc.Type,
		Status:         string(doc.Status),
		CurrentVersion: doc.CurrentVersion,
		Revision:       doc.Revision,
		UpdatedAt:      doc.UpdatedAt,
	}
}
