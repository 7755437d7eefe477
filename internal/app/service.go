// Package app exposes the document workflow as commands. Each command runs
// under a per-document lock: load, transition, persist with compare-and-swap,
// then notify and index in the background.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"coauthor/api/internal/activity"
	"coauthor/api/internal/blocks"
	"coauthor/api/internal/gitrepo"
	"coauthor/api/internal/locker"
	"coauthor/api/internal/logging"
	"coauthor/api/internal/metrics"
	"coauthor/api/internal/notify"
	"coauthor/api/internal/review"
	"coauthor/api/internal/search"
	"coauthor/api/internal/store"
	"coauthor/api/internal/util"
)

// Persistence stores documents with optimistic concurrency. Save must fail
// with *review.StaleVersionError when the stored revision differs from
// doc.Revision.
type Persistence interface {
	Create(context.Context, *review.Document) error
	Load(context.Context, string) (*review.Document, error)
	Save(context.Context, *review.Document) error
	ListDocuments(context.Context) ([]store.DocumentSummary, error)
	RecordPublishedVersion(context.Context, store.PublishedVersion) error
	ListPublishedVersions(context.Context, string) ([]store.PublishedVersion, error)
	Ping(context.Context) error
}

// Snapshotter freezes published content.
type Snapshotter interface {
	CommitSnapshot(gitrepo.Snapshot) (gitrepo.CommitInfo, error)
	GetSnapshot(documentID string, version int) (gitrepo.Snapshot, error)
	DiffVersions(documentID string, from, to int) ([]gitrepo.BlockDiff, error)
}

// Indexer keeps a search index in step with documents.
type Indexer interface {
	IndexDocument(context.Context, *review.Document) error
	Search(context.Context, search.Query) search.Response
}

// Actor is the current user as resolved from the request.
type Actor struct {
	ID    string
	Name  string
	Email string
}

type Options struct {
	ApprovalsRequired int
	LockTimeout       time.Duration
	// BackgroundTimeout bounds each notification or indexing call.
	BackgroundTimeout time.Duration

	Notifier  notify.Notifier
	Snapshots Snapshotter
	Search    Indexer
	Logger    logging.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Service struct {
	store     Persistence
	locks     *locker.Locker
	notifier  notify.Notifier
	snapshots Snapshotter
	search    Indexer
	logger    logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	approvalsRequired int
	lockTimeout       time.Duration
	bgTimeout         time.Duration
	background        sync.WaitGroup
}

func New(persistence Persistence, opts Options) *Service {
	s := &Service{
		store:             persistence,
		locks:             locker.New(),
		notifier:          opts.Notifier,
		snapshots:         opts.Snapshots,
		search:            opts.Search,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		now:               opts.Now,
		approvalsRequired: opts.ApprovalsRequired,
		lockTimeout:       opts.LockTimeout,
		bgTimeout:         opts.BackgroundTimeout,
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.approvalsRequired < 1 {
		s.approvalsRequired = 2
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = 5 * time.Second
	}
	if s.bgTimeout <= 0 {
		s.bgTimeout = 10 * time.Second
	}
	return s
}

// Result is the outcome of a command: the committed document and the entity
// the command produced.
type Result[T any] struct {
	Document *review.Document `json:"document"`
	Item     T                `json:"item"`
}

// transition mutates a private copy of a document. Returning an error
// discards the copy.
type transition[T any] func(doc *review.Document, now time.Time) (T, error)

// run executes fn against the stored document docID under its lock. A
// non-zero expectedRevision must match the stored revision.
func run[T any](ctx context.Context, s *Service, op, docID string, expectedRevision int64, fn transition[T]) (res Result[T], err error) {
	started := time.Now()
	defer func() {
		s.metrics.ObserveOperation(op, resultCode(err), time.Since(started))
	}()

	unlock, err := s.lock(ctx, docID)
	if err != nil {
		return res, err
	}
	defer unlock()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	current, err := s.store.Load(ctx, docID)
	if err != nil {
		return res, err
	}
	if expectedRevision != 0 && expectedRevision != current.Revision {
		return res, &review.StaleVersionError{DocumentID: docID, Expected: expectedRevision, Actual: current.Revision}
	}

	work := current.Clone()
	item, err := fn(work, s.now().UTC())
	if err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := s.store.Save(ctx, work); err != nil {
		return res, fmt.Errorf("save document %s: %w", docID, err)
	}

	s.logger.Infow("document updated", "document", docID, "op", op, "revision", work.Revision, "status", work.Status)
	s.reindex(work)
	return Result[T]{Document: work, Item: item}, nil
}

func (s *Service) lock(ctx context.Context, docID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.locks.Lock(lockCtx, docID); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("lock %s: %w", docID, errLockTimeout)
	}
	return func() {
		if err := s.locks.Unlock(docID); err != nil {
			s.logger.Errorw("unlock document", "document", docID, "error", err)
		}
	}, nil
}

// CreateDocument creates a draft led by actor. required falls back to the
// configured approval count when zero.
func (s *Service) CreateDocument(ctx context.Context, actor Actor, title, docType string, required int) (doc *review.Document, err error) {
	started := time.Now()
	defer func() {
		s.metrics.ObserveOperation("create_document", resultCode(err), time.Since(started))
	}()

	if required == 0 {
		required = s.approvalsRequired
	}
	lead := review.Author{ID: actor.ID, Name: actor.Name, Email: strings.ToLower(strings.TrimSpace(actor.Email))}
	doc, err = review.NewDocument(util.NewID("doc"), title, docType, lead, required, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.logger.Infow("document created", "document", doc.ID, "actor", actor.ID)
	s.reindex(doc)
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, docID string) (*review.Document, error) {
	return s.store.Load(ctx, docID)
}

func (s *Service) ListDocuments(ctx context.Context) ([]store.DocumentSummary, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (s *Service) SubmitForReview(ctx context.Context, docID, actorID string, expectedRevision int64) (*review.Document, error) {
	res, err := run(ctx, s, "submit", docID, expectedRevision, func(doc *review.Document, now time.Time) (struct{}, error) {
		return struct{}{}, doc.SubmitForReview(actorID, now)
	})
	return res.Document, err
}

func (s *Service) AddComment(ctx context.Context, docID, actorID string, in review.NewComment, expectedRevision int64) (Result[review.Note], error) {
	return run(ctx, s, "add_comment", docID, expectedRevision, func(doc *review.Document, now time.Time) (review.Note, error) {
		return doc.AddComment(actorID, in, now)
	})
}

func (s *Service) ReactToComment(ctx context.Context, docID, commentID, actorID string, reaction review.Reaction) (Result[review.Note], error) {
	return run(ctx, s, "react", docID, 0, func(doc *review.Document, now time.Time) (review.Note, error) {
		return doc.ReactToComment(commentID, actorID, reaction, now)
	})
}

func (s *Service) ResolveComment(ctx context.Context, docID, commentID, actorID string, status review.CommentStatus, expectedRevision int64) (Result[review.Note], error) {
	return run(ctx, s, "resolve_comment", docID, expectedRevision, func(doc *review.Document, now time.Time) (review.Note, error) {
		return doc.ResolveComment(commentID, actorID, status, now)
	})
}

func (s *Service) ProposeChange(ctx context.Context, docID, actorID string, in review.NewChange, expectedRevision int64) (Result[review.Change], error) {
	return run(ctx, s, "propose_change", docID, expectedRevision, func(doc *review.Document, now time.Time) (review.Change, error) {
		return doc.ProposeChange(actorID, in, now)
	})
}

func (s *Service) ReviewChange(ctx context.Context, docID, changeID, reviewerID string, decision review.Decision, expectedRevision int64) (Result[review.Change], error) {
	return run(ctx, s, "review_change", docID, expectedRevision, func(doc *review.Document, now time.Time) (review.Change, error) {
		return doc.ReviewChange(changeID, reviewerID, decision, now)
	})
}

// InviteAuthor records an invitation and notifies the invitee in the
// background.
func (s *Service) InviteAuthor(ctx context.Context, docID, inviterID, email, role string) (Result[review.Invitation], error) {
	res, err := run(ctx, s, "invite", docID, 0, func(doc *review.Document, now time.Time) (review.Invitation, error) {
		return doc.InviteAuthor(inviterID, email, role, now)
	})
	if err != nil {
		return res, err
	}

	inviter, _ := res.Document.Author(inviterID)
	notice := notify.InviteNotice{
		InvitationID:  res.Item.ID,
		DocumentID:    docID,
		DocumentTitle: res.Document.Title,
		Email:         res.Item.Email,
		Role:          string(res.Item.Role),
		InvitedBy:     firstNonEmpty(inviter.Name, inviterID),
		InvitedAt:     res.Item.InvitedAt,
	}
	s.goBackground("notify invite", func(ctx context.Context) error {
		if s.notifier == nil {
			return nil
		}
		return s.notifier.AuthorInvited(ctx, notice)
	})
	return res, nil
}

// AcceptInvitation adds actor to the document with the invited role.
func (s *Service) AcceptInvitation(ctx context.Context, docID, invitationID string, actor Actor) (Result[review.Author], error) {
	return run(ctx, s, "accept_invitation", docID, 0, func(doc *review.Document, now time.Time) (review.Author, error) {
		return doc.AcceptInvitation(invitationID, review.Author{ID: actor.ID, Name: actor.Name, Email: actor.Email}, now)
	})
}

// Publish publishes an approved document and freezes its blocks as a version
// snapshot. A failed snapshot leaves the document unpublished.
func (s *Service) Publish(ctx context.Context, docID, actorID string, expectedRevision int64) (Result[store.PublishedVersion], error) {
	res, err := run(ctx, s, "publish", docID, expectedRevision, func(doc *review.Document, now time.Time) (store.PublishedVersion, error) {
		if err := doc.Publish(actorID, now); err != nil {
			return store.PublishedVersion{}, err
		}
		version := store.PublishedVersion{
			DocumentID:  doc.ID,
			Version:     doc.CurrentVersion,
			PublishedBy: actorID,
			PublishedAt: now,
		}
		if s.snapshots != nil {
			commit, err := s.snapshots.CommitSnapshot(gitrepo.Snapshot{
				DocumentID:  doc.ID,
				Title:       doc.Title,
				Version:     doc.CurrentVersion,
				Blocks:      doc.Blocks,
				PublishedBy: actorID,
				PublishedAt: now,
			})
			if err != nil {
				return store.PublishedVersion{}, fmt.Errorf("snapshot version %d: %w", doc.CurrentVersion, err)
			}
			version.CommitHash = commit.Hash
		}
		return version, nil
	})
	if err != nil {
		return res, err
	}

	if err := s.store.RecordPublishedVersion(ctx, res.Item); err != nil {
		s.logger.Warnw("record published version", "document", docID, "version", res.Item.Version, "error", err)
	}
	s.metrics.AddPublished()
	return res, nil
}

// AddBlock creates a block of type t from overrides and inserts it at index.
func (s *Service) AddBlock(ctx context.Context, docID, actorID string, t blocks.Type, overrides json.RawMessage, index int, expectedRevision int64) (Result[review.Change], error) {
	b, err := blocks.Create(t, overrides)
	if err != nil {
		return Result[review.Change]{}, err
	}
	return run(ctx, s, "add_block", docID, expectedRevision, func(doc *review.Document, now time.Time) (review.Change, error) {
		return doc.AddBlock(actorID, b, index, now)
	})
}

// ReplaceBlock validates props against the block's type and replaces them.
func (s *Service) ReplaceBlock(ctx context.Context, docID, actorID, blockID string, props json.RawMessage, expectedRevision int64) (Result[review.Change], error) {
	return run(ctx, s, "replace_block", docID, expectedRevision, func(doc *review.Document, now time.Time) (review.Change, error) {
		b, ok := doc.Block(blockID)
		if !ok {
			return review.Change{}, fmt.Errorf("block %s: %w", blockID, review.ErrNotFound)
		}
		parsed, errs := blocks.Validate(b.Type, props)
		if len(errs) > 0 {
			return review.Change{}, errs
		}
		return doc.ReplaceBlock(actorID, blockID, parsed, now)
	})
}

func (s *Service) RemoveBlock(ctx context.Context, docID, actorID, blockID string, expectedRevision int64) (Result[review.Change], error) {
	return run(ctx, s, "remove_block", docID, expectedRevision, func(doc *review.Document, now time.Time) (review.Change, error) {
		return doc.RemoveBlock(actorID, blockID, now)
	})
}

func (s *Service) MoveBlock(ctx context.Context, docID, actorID, blockID string, index int, expectedRevision int64) (Result[review.Change], error) {
	return run(ctx, s, "move_block", docID, expectedRevision, func(doc *review.Document, now time.Time) (review.Change, error) {
		return doc.MoveBlock(actorID, blockID, index, now)
	})
}

// NewVersion starts a draft from a published document. The published
// document records the draft as its successor, so each version is followed by
// at most one draft.
func (s *Service) NewVersion(ctx context.Context, docID, actorID string) (*review.Document, error) {
	res, err := run(ctx, s, "new_version", docID, 0, func(doc *review.Document, now time.Time) (*review.Document, error) {
		draft, err := doc.NewVersion(actorID, util.NewID("doc"), now)
		if err != nil {
			return nil, err
		}
		if err := s.store.Create(ctx, draft); err != nil {
			return nil, fmt.Errorf("create version %d of %s: %w", draft.CurrentVersion, docID, err)
		}
		return draft, nil
	})
	if err != nil {
		return nil, err
	}
	draft := res.Item
	s.logger.Infow("document version started", "document", draft.ID, "previous", docID, "version", draft.CurrentVersion, "actor", actorID)
	s.reindex(draft)
	return draft, nil
}

// Timeline returns up to limit activity events, newest first.
func (s *Service) Timeline(ctx context.Context, docID string, limit int) ([]activity.Event, error) {
	doc, err := s.store.Load(ctx, docID)
	if err != nil {
		return nil, err
	}
	return activity.Collect(activity.Timeline(doc), limit), nil
}

// CreateBlock returns a new block of type t with overrides merged over the
// defaults. It is not attached to any document.
func (s *Service) CreateBlock(t blocks.Type, overrides json.RawMessage) (blocks.Block, error) {
	return blocks.Create(t, overrides)
}

// ValidateBlock checks props for a block of type t.
func (s *Service) ValidateBlock(t blocks.Type, props json.RawMessage) blocks.ValidationErrors {
	_, errs := blocks.Validate(t, props)
	return errs
}

// Versions lists the published versions of a document.
func (s *Service) Versions(ctx context.Context, docID string) ([]store.PublishedVersion, error) {
	if _, err := s.store.Load(ctx, docID); err != nil {
		return nil, err
	}
	return s.store.ListPublishedVersions(ctx, docID)
}

// Snapshot returns the frozen content of a published version.
func (s *Service) Snapshot(ctx context.Context, docID string, version int) (gitrepo.Snapshot, error) {
	if s.snapshots == nil {
		return gitrepo.Snapshot{}, errSnapshotsDisabled
	}
	if err := ctx.Err(); err != nil {
		return gitrepo.Snapshot{}, err
	}
	return s.snapshots.GetSnapshot(docID, version)
}

// Diff compares the blocks of two published versions.
func (s *Service) Diff(ctx context.Context, docID string, from, to int) ([]gitrepo.BlockDiff, error) {
	if s.snapshots == nil {
		return nil, errSnapshotsDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.snapshots.DiffVersions(docID, from, to)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Wait blocks until background notifications and indexing have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) reindex(doc *review.Document) {
	if s.search == nil {
		return
	}
	snapshot := doc.Clone()
	s.goBackground("index document", func(ctx context.Context) error {
		return s.search.IndexDocument(ctx, snapshot)
	})
}

func (s *Service) goBackground(what string, fn func(context.Context) error) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.bgTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warnw(what+" failed", "error", err)
		}
	}()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
