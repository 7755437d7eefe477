package search

import (
	"context"
	"strings"

	"coauthor/api/internal/blocks"
	"coauthor/api/internal/review"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterDocumentID string
	FilterStatus     string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Body      string `json:"body"`
	Version   int    `json:"version"`
	WordCount int    `json:"wordCount"`
}

// CommentRecord is the data we index for a comment or reply.
type CommentRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	AuthorID   string `json:"authorId"`
	Body       string `json:"body"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	ParentID   string `json:"parentId,omitempty"`
}

// RecordsFor flattens a document into its search records.
func RecordsFor(doc *review.Document) (DocumentRecord, []CommentRecord) {
	texts := make([]string, 0, len(doc.Blocks))
	for _, b := range doc.Blocks {
		if t := strings.TrimSpace(blocks.PlainText(b)); t != "" {
			texts = append(texts, t)
		}
	}
	rec := DocumentRecord{
		ID:        doc.ID,
		Title:     doc.Title,
		Type:      doc.Type,
		Status:    string(doc.Status),
		Body:      strings.Join(texts, "\n"),
		Version:   doc.CurrentVersion,
		WordCount: doc.WordCount,
	}

	var comments []CommentRecord
	add := func(n review.Note) {
		comments = append(comments, CommentRecord{
			ID:         n.ID,
			DocumentID: doc.ID,
			AuthorID:   n.AuthorID,
			Body:       n.Content,
			Type:       string(n.Type),
			Status:     string(n.Status),
			ParentID:   n.ParentID,
		})
	}
	for _, c := range doc.Comments {
		add(c.Note)
		for _, r := range c.Replies {
			add(r.Note)
		}
	}
	return rec, comments
}
