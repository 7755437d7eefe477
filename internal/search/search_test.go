package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coauthor/api/internal/blocks"
	"coauthor/api/internal/review"
)

func testDocument(t *testing.T) *review.Document {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	doc, err := review.NewDocument("doc_1", "Onboarding", "guide", review.Author{ID: "lead", Name: "Lee"}, 1, now)
	require.NoError(t, err)

	quote := blocks.MustCreate(blocks.TypeQuote, json.RawMessage(`{"text":"Ship small changes"}`))
	_, err = doc.AddBlock("lead", quote, -1, now)
	require.NoError(t, err)

	c, err := doc.AddComment("lead", review.NewComment{Content: "Tighten the intro"}, now)
	require.NoError(t, err)
	_, err = doc.AddComment("lead", review.NewComment{Content: "Done", ParentID: c.ID}, now)
	require.NoError(t, err)
	return doc
}

func TestRecordsFor(t *testing.T) {
	doc := testDocument(t)
	rec, comments := RecordsFor(doc)

	assert.Equal(t, "doc_1", rec.ID)
	assert.Equal(t, "Onboarding", rec.Title)
	assert.Equal(t, "draft", rec.Status)
	assert.Contains(t, rec.Body, "Ship small changes")
	assert.Equal(t, 1, rec.Version)

	require.Len(t, comments, 2)
	assert.Equal(t, "Tighten the intro", comments[0].Body)
	assert.Empty(t, comments[0].ParentID)
	assert.Equal(t, comments[0].ID, comments[1].ParentID)
	assert.Equal(t, "doc_1", comments[1].DocumentID)
}

func TestBuildQueries(t *testing.T) {
	qs := buildQueries(Query{Text: "intro"})
	require.Len(t, qs, 2)
	assert.Equal(t, int64(20), qs[0].Limit)
	assert.Equal(t, "intro", qs[0].Query)
	assert.Nil(t, qs[0].Filter)

	qs = buildQueries(Query{Text: "intro", FilterType: ResultComment, FilterDocumentID: "doc_1", FilterStatus: "open", Limit: 5})
	require.Len(t, qs, 1)
	assert.Equal(t, idxComments, qs[0].IndexUID)
	assert.Equal(t, []string{`status = "open"`, `documentId = "doc_1"`}, qs[0].Filter)
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"cmt_1"`),
		"documentId": json.RawMessage(`"doc_1"`),
		"type":       json.RawMessage(`"suggestion"`),
		"status":     json.RawMessage(`"open"`),
		"body":       json.RawMessage(`"Tighten the intro"`),
		"_formatted": json.RawMessage(`{"body":"Tighten the <mark>intro</mark>"}`),
	}
	r := hitToResult(hit, ResultComment)
	assert.Equal(t, Result{
		Type:       ResultComment,
		ID:         "cmt_1",
		Title:      "suggestion",
		Snippet:    "Tighten the <mark>intro</mark>",
		DocumentID: "doc_1",
		Status:     "open",
	}, r)
}

type stubSearcher struct {
	results []Result
	err     error
}

func (s stubSearcher) Search(context.Context, Query) ([]Result, int, error) {
	return s.results, len(s.results), s.err
}

func (s stubSearcher) Healthy() bool { return true }

func TestServiceFallback(t *testing.T) {
	hit := Result{Type: ResultDocument, ID: "doc_1"}
	svc := NewService(nil, stubSearcher{results: []Result{hit}}, nil)
	resp := svc.Search(context.Background(), Query{Text: "intro"})
	assert.Equal(t, Response{Results: []Result{hit}, Total: 1, Query: "intro"}, resp)

	svc = NewService(nil, stubSearcher{err: errors.New("down")}, nil)
	resp = svc.Search(context.Background(), Query{Text: "intro"})
	assert.Equal(t, []Result{}, resp.Results)

	svc = NewService(nil, nil, nil)
	assert.NoError(t, svc.IndexDocument(context.Background(), testDocument(t)))
	assert.Equal(t, []Result{}, svc.Search(context.Background(), Query{Text: "x"}).Results)
}
