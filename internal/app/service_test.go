package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coauthor/api/internal/activity"
	"coauthor/api/internal/blocks"
	"coauthor/api/internal/gitrepo"
	"coauthor/api/internal/notify"
	"coauthor/api/internal/review"
	"coauthor/api/internal/search"
	"coauthor/api/internal/store"
)

var (
	lead = Actor{ID: "lead", Name: "Lee", Email: "lee@example.com"}
	ana  = Actor{ID: "ana", Name: "Ana", Email: "ana@example.com"}
	ben  = Actor{ID: "ben", Name: "Ben", Email: "ben@example.com"}
	cy   = Actor{ID: "cy", Name: "Cy", Email: "cy@example.com"}
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.InviteNotice
}

func (n *recordingNotifier) AuthorInvited(_ context.Context, notice notify.InviteNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

type recordingIndexer struct {
	mu      sync.Mutex
	indexed map[string]int64
}

func (i *recordingIndexer) IndexDocument(_ context.Context, doc *review.Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.indexed == nil {
		i.indexed = make(map[string]int64)
	}
	if doc.Revision > i.indexed[doc.ID] {
		i.indexed[doc.ID] = doc.Revision
	}
	return nil
}

func (i *recordingIndexer) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{{Type: search.ResultDocument, ID: "hit"}}, Total: 1, Query: q.Text}
}

type failingSnapshots struct{ *gitrepo.Service }

func (failingSnapshots) CommitSnapshot(gitrepo.Snapshot) (gitrepo.CommitInfo, error) {
	return gitrepo.CommitInfo{}, errors.New("disk full")
}

type testEnv struct {
	svc      *Service
	store    *store.MemoryStore
	notifier *recordingNotifier
	indexer  *recordingIndexer
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	mem, err := store.NewMemoryStore()
	require.NoError(t, err)

	env := &testEnv{store: mem, notifier: &recordingNotifier{}, indexer: &recordingIndexer{}}
	if opts.Snapshots == nil {
		opts.Snapshots = gitrepo.New(t.TempDir())
	}
	opts.Notifier = env.notifier
	opts.Search = env.indexer
	if opts.ApprovalsRequired == 0 {
		opts.ApprovalsRequired = 2
	}
	env.svc = New(mem, opts)
	t.Cleanup(env.svc.Wait)
	return env
}

// seedDocument creates a document led by lead with reviewers ana and ben and
// contributor cy, all joined through invitations.
func (e *testEnv) seedDocument(t *testing.T) *review.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := e.svc.CreateDocument(ctx, lead, "Leading change", "lesson", 0)
	require.NoError(t, err)

	for _, member := range []struct {
		actor Actor
		role  string
	}{{ana, "reviewer"}, {ben, "reviewer"}, {cy, "contributor"}} {
		inv, err := e.svc.InviteAuthor(ctx, doc.ID, lead.ID, member.actor.Email, member.role)
		require.NoError(t, err)
		_, err = e.svc.AcceptInvitation(ctx, doc.ID, inv.Item.ID, member.actor)
		require.NoError(t, err)
	}
	doc, err = e.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, doc.Authors, 4)
	return doc
}

func TestServiceReviewLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	doc := env.seedDocument(t)

	added, err := env.svc.AddBlock(ctx, doc.ID, cy.ID, blocks.TypeQuote, json.RawMessage(`{"text":"Be kind to reviewers"}`), -1, 0)
	require.NoError(t, err)
	assert.Equal(t, review.ChangeStructure, added.Item.Type)
	assert.Equal(t, 4, added.Document.WordCount)

	_, err = env.svc.SubmitForReview(ctx, doc.ID, cy.ID, 0)
	require.NoError(t, err)

	res, err := env.svc.ReviewChange(ctx, doc.ID, added.Item.ID, ana.ID, review.DecisionApprove, 0)
	require.NoError(t, err)
	assert.Equal(t, review.StatusInReview, res.Document.Status)

	_, err = env.svc.Publish(ctx, doc.ID, lead.ID, 0)
	require.ErrorIs(t, err, review.ErrInvalidStateTransition)

	change, err := env.svc.ProposeChange(ctx, doc.ID, cy.ID, review.NewChange{Type: review.ChangeMetadata, Description: "Rename"}, 0)
	require.NoError(t, err)
	res, err = env.svc.ReviewChange(ctx, doc.ID, change.Item.ID, ben.ID, review.DecisionApprove, 0)
	require.NoError(t, err)
	assert.Equal(t, review.StatusApproved, res.Document.Status)

	_, err = env.svc.Publish(ctx, doc.ID, cy.ID, 0)
	require.ErrorIs(t, err, review.ErrPermissionDenied)

	published, err := env.svc.Publish(ctx, doc.ID, lead.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, review.StatusPublished, published.Document.Status)
	assert.NotNil(t, published.Document.PublishedAt)
	assert.NotEmpty(t, published.Item.CommitHash)
	assert.Equal(t, 1, published.Item.Version)

	versions, err := env.svc.Versions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, published.Item.CommitHash, versions[0].CommitHash)

	snap, err := env.svc.Snapshot(ctx, doc.ID, 1)
	require.NoError(t, err)
	require.Len(t, snap.Blocks, 1)
	assert.Equal(t, added.Document.Blocks[0].ID, snap.Blocks[0].ID)

	_, err = env.svc.AddBlock(ctx, doc.ID, lead.ID, blocks.TypeQuote, nil, -1, 0)
	require.ErrorIs(t, err, review.ErrInvalidStateTransition)

	env.svc.Wait()
	env.notifier.mu.Lock()
	assert.Len(t, env.notifier.notices, 3)
	assert.Equal(t, "Lee", env.notifier.notices[0].InvitedBy)
	env.notifier.mu.Unlock()

	env.indexer.mu.Lock()
	assert.Equal(t, published.Document.Revision, env.indexer.indexed[doc.ID])
	env.indexer.mu.Unlock()
}

func TestServiceFailedCommandDoesNotPersist(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	doc := env.seedDocument(t)

	_, err := env.svc.AddComment(ctx, doc.ID, "stranger", review.NewComment{Content: "hi"}, 0)
	require.ErrorIs(t, err, review.ErrPermissionDenied)

	_, err = env.svc.ReplaceBlock(ctx, doc.ID, lead.ID, "blk_missing", json.RawMessage(`{}`), 0)
	require.ErrorIs(t, err, review.ErrNotFound)

	after, err := env.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc, after)
}

func TestServiceStaleRevision(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	doc := env.seedDocument(t)

	res, err := env.svc.AddComment(ctx, doc.ID, ana.ID, review.NewComment{Content: "First"}, doc.Revision)
	require.NoError(t, err)
	assert.Equal(t, doc.Revision+1, res.Document.Revision)

	_, err = env.svc.AddComment(ctx, doc.ID, ben.ID, review.NewComment{Content: "Late"}, doc.Revision)
	var stale *review.StaleVersionError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, res.Document.Revision, stale.Actual)

	current, err := env.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, current.Comments, 1)
}

func TestServiceSerializesCommandsPerDocument(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	doc := env.seedDocument(t)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.AddComment(ctx, doc.ID, ana.ID, review.NewComment{Content: fmt.Sprintf("comment %d", i)}, 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, err := env.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, current.Comments, n)
	assert.Equal(t, doc.Revision+n, current.Revision)
}

func TestServiceLockTimeoutAndCancellation(t *testing.T) {
	env := newTestEnv(t, Options{LockTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	doc := env.seedDocument(t)

	require.NoError(t, env.svc.locks.Lock(ctx, doc.ID))
	_, err := env.svc.SubmitForReview(ctx, doc.ID, lead.ID, 0)
	require.ErrorIs(t, err, errLockTimeout)
	assert.Equal(t, "LOCK_TIMEOUT", toDomainError(err).Code)
	require.NoError(t, env.svc.locks.Unlock(doc.ID))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = env.svc.SubmitForReview(canceled, doc.ID, lead.ID, 0)
	require.ErrorIs(t, err, context.Canceled)

	current, err := env.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusDraft, current.Status)
}

func TestServicePublishRollsBackOnSnapshotFailure(t *testing.T) {
	env := newTestEnv(t, Options{ApprovalsRequired: 1, Snapshots: failingSnapshots{}})
	ctx := context.Background()
	doc := env.seedDocument(t)

	change, err := env.svc.ProposeChange(ctx, doc.ID, cy.ID, review.NewChange{Type: review.ChangeTextEdit, Description: "Fix typo"}, 0)
	require.NoError(t, err)
	_, err = env.svc.SubmitForReview(ctx, doc.ID, cy.ID, 0)
	require.NoError(t, err)
	_, err = env.svc.ReviewChange(ctx, doc.ID, change.Item.ID, ana.ID, review.DecisionApprove, 0)
	require.NoError(t, err)

	_, err = env.svc.Publish(ctx, doc.ID, lead.ID, 0)
	require.ErrorContains(t, err, "disk full")

	current, err := env.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusApproved, current.Status)
	versions, err := env.svc.Versions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestServiceNewVersion(t *testing.T) {
	env := newTestEnv(t, Options{ApprovalsRequired: 1})
	ctx := context.Background()
	doc := env.seedDocument(t)

	added, err := env.svc.AddBlock(ctx, doc.ID, lead.ID, blocks.TypeCallout, nil, 0, 0)
	require.NoError(t, err)
	_, err = env.svc.NewVersion(ctx, doc.ID, lead.ID)
	require.ErrorIs(t, err, review.ErrInvalidStateTransition)

	_, err = env.svc.SubmitForReview(ctx, doc.ID, lead.ID, 0)
	require.NoError(t, err)
	_, err = env.svc.ReviewChange(ctx, doc.ID, added.Item.ID, ben.ID, review.DecisionApprove, 0)
	require.NoError(t, err)
	_, err = env.svc.Publish(ctx, doc.ID, lead.ID, 0)
	require.NoError(t, err)

	draft, err := env.svc.NewVersion(ctx, doc.ID, cy.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusDraft, draft.Status)
	assert.Equal(t, 2, draft.CurrentVersion)
	assert.Equal(t, doc.ID, draft.PreviousVersionID)
	assert.Len(t, draft.Blocks, 1)

	stored, err := env.svc.GetDocument(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Revision)

	source, err := env.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusPublished, source.Status)
	assert.Equal(t, draft.ID, source.NextVersionID)

	_, err = env.svc.NewVersion(ctx, doc.ID, lead.ID)
	require.ErrorIs(t, err, review.ErrInvalidStateTransition)
	again, err := env.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, source.Revision, again.Revision)
	assert.Equal(t, draft.ID, again.NextVersionID)
}

func TestServiceBlocksAndTimeline(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	doc := env.seedDocument(t)

	_, err := env.svc.AddBlock(ctx, doc.ID, lead.ID, "carousel", nil, -1, 0)
	require.ErrorIs(t, err, blocks.ErrUnknownType)

	img, err := env.svc.AddBlock(ctx, doc.ID, lead.ID, blocks.TypeImage, nil, -1, 0)
	require.NoError(t, err)
	blockID := img.Document.Blocks[0].ID

	_, err = env.svc.ReplaceBlock(ctx, doc.ID, lead.ID, blockID, json.RawMessage(`{"src":"nope","alt":""}`), 0)
	var verrs blocks.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)

	replaced, err := env.svc.ReplaceBlock(ctx, doc.ID, lead.ID, blockID, json.RawMessage(`{"src":"https://cdn.example.com/a.png","alt":"A chart"}`), 0)
	require.NoError(t, err)
	assert.Equal(t, review.ChangeImageUpdate, replaced.Item.Type)

	comment, err := env.svc.AddComment(ctx, doc.ID, ana.ID, review.NewComment{Content: "Nice chart"}, 0)
	require.NoError(t, err)
	_, err = env.svc.ReactToComment(ctx, doc.ID, comment.Item.ID, ben.ID, review.ReactionLike)
	require.NoError(t, err)
	resolved, err := env.svc.ResolveComment(ctx, doc.ID, comment.Item.ID, ben.ID, review.CommentResolved, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved.Item.ReactionsFor("ana").Likes)

	_, err = env.svc.ResolveComment(ctx, doc.ID, comment.Item.ID, ben.ID, review.CommentDismissed, 0)
	require.ErrorIs(t, err, review.ErrAlreadyResolved)

	_, err = env.svc.RemoveBlock(ctx, doc.ID, lead.ID, blockID, 0)
	require.NoError(t, err)

	events, err := env.svc.Timeline(ctx, doc.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	kinds := make([]activity.Kind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.ElementsMatch(t, []activity.Kind{activity.KindChange, activity.KindChange, activity.KindChange, activity.KindComment}, kinds)

	limited, err := env.svc.Timeline(ctx, doc.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, events[:2], limited)

	assert.Empty(t, env.svc.ValidateBlock(blocks.TypeQuizTF, json.RawMessage(`{"statement":"Go has generics","answer":true}`)))
	assert.NotEmpty(t, env.svc.ValidateBlock(blocks.TypeQuizTF, json.RawMessage(`{"statement":""}`)))

	b, err := env.svc.CreateBlock(blocks.TypeCTA, nil)
	require.NoError(t, err)
	assert.Equal(t, blocks.TypeCTA, b.Type)

	assert.Equal(t, 1, env.svc.Search(ctx, search.Query{Text: "chart"}).Total)
}

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", blocks.ValidationErrors{{Field: "alt", Reason: "required"}}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"wrapped validation", fmt.Errorf("save: %w", blocks.ValidationErrors{{Field: "alt"}}), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"permission", &review.PermissionDeniedError{AuthorID: "x", Action: "publish"}, http.StatusForbidden, "FORBIDDEN"},
		{"transition", &review.TransitionError{Entity: "document", Op: "publish"}, http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{"already resolved", review.ErrAlreadyResolved, http.StatusConflict, "ALREADY_RESOLVED"},
		{"stale", fmt.Errorf("save: %w", &review.StaleVersionError{Actual: 3}), http.StatusConflict, "STALE_VERSION"},
		{"not found", fmt.Errorf("document x: %w", review.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"version not found", gitrepo.ErrVersionNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"duplicate", store.ErrDuplicate, http.StatusConflict, "DUPLICATE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toDomainError(tt.err)
			if got.Status != tt.status || got.Code != tt.code {
				t.Fatalf("toDomainError(%v) = %d %s, want %d %s", tt.err, got.Status, got.Code, tt.status, tt.code)
			}
		})
	}
	assert.Equal(t, "ok", resultCode(nil))
}
