// Package gitrepo keeps the published versions of each document in its own git
// repository. Every publish commits the frozen block list to main and tags it
// v<version>.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"coauthor/api/internal/blocks"
)

const snapshotFile = "snapshot.json"

// ErrVersionNotFound is returned when no snapshot is tagged for a version.
var ErrVersionNotFound = errors.New("version snapshot not found")

// Snapshot is the immutable content of one published version.
type Snapshot struct {
	DocumentID  string         `json:"documentId"`
	Title       string         `json:"title"`
	Version     int            `json:"version"`
	Blocks      []blocks.Block `json:"blocks"`
	PublishedBy string         `json:"publishedBy"`
	PublishedAt time.Time      `json:"publishedAt"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Tag       string    `json:"tag,omitempty"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitSnapshot records snap as the content of its version. Committing a
// version that is already tagged returns the existing commit.
func (s *Service) CommitSnapshot(snap Snapshot) (CommitInfo, error) {
	lock := s.documentLock(snap.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := s.openOrInit(snap.DocumentID)
	if err != nil {
		return CommitInfo{}, err
	}

	tag := versionTag(snap.Version)
	if ref, err := repo.Tag(tag); err == nil {
		commitObj, err := repo.CommitObject(ref.Hash())
		if err != nil {
			return CommitInfo{}, fmt.Errorf("read tagged commit %s: %w", tag, err)
		}
		return toCommitInfo(commitObj, tag), nil
	} else if !errors.Is(err, git.ErrTagNotFound) {
		return CommitInfo{}, fmt.Errorf("resolve tag %s: %w", tag, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add snapshot: %w", err)
	}

	signature := &object.Signature{
		Name:  snap.PublishedBy,
		Email: fmt.Sprintf("%s@local.coauthor.dev", sanitizeEmail(snap.PublishedBy)),
		When:  snap.PublishedAt,
	}
	hash, err := worktree.Commit(fmt.Sprintf("Publish %s version %d", snap.Title, snap.Version), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature,
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}
	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
			return CommitInfo{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return CommitInfo{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger:  signature,
		Message: fmt.Sprintf("version %d", snap.Version),
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return CommitInfo{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj, tag), nil
}

// GetSnapshot reads the snapshot tagged for version.
func (s *Service) GetSnapshot(documentID string, version int) (Snapshot, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, fmt.Errorf("%s v%d: %w", documentID, version, ErrVersionNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	hash, err := resolveTag(repo, versionTag(version))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s v%d: %w", documentID, version, err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSnapshotFromCommit(commitObj)
}

// History lists published versions on main, newest first.
func (s *Service) History(documentID string, limit int) ([]CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch main: %w", err)
	}
	tags, err := tagsByCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj, tags[commitObj.Hash]))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// BlockDiff describes how one block differs between two versions.
type BlockDiff struct {
	BlockID string      `json:"blockId"`
	Type    blocks.Type `json:"type"`
	Change  string      `json:"change"`
}

// DiffVersions compares the blocks of two published versions.
func (s *Service) DiffVersions(documentID string, from, to int) ([]BlockDiff, error) {
	a, err := s.GetSnapshot(documentID, from)
	if err != nil {
		return nil, err
	}
	b, err := s.GetSnapshot(documentID, to)
	if err != nil {
		return nil, err
	}
	return DiffBlocks(a.Blocks, b.Blocks), nil
}

// DiffBlocks lists blocks that were added, removed, modified or moved between
// from and to, in the order they appear in to followed by removals.
func DiffBlocks(from, to []blocks.Block) []BlockDiff {
	type entry struct {
		index int
		props []byte
	}
	before := make(map[string]entry, len(from))
	for i, b := range from {
		before[b.ID] = entry{index: i, props: normalizeProps(b.Props)}
	}

	result := make([]BlockDiff, 0)
	seen := make(map[string]bool, len(to))
	for i, b := range to {
		seen[b.ID] = true
		prev, ok := before[b.ID]
		switch {
		case !ok:
			result = append(result, BlockDiff{BlockID: b.ID, Type: b.Type, Change: "added"})
		case !bytes.Equal(prev.props, normalizeProps(b.Props)):
			result = append(result, BlockDiff{BlockID: b.ID, Type: b.Type, Change: "modified"})
		case prev.index != i:
			result = append(result, BlockDiff{BlockID: b.ID, Type: b.Type, Change: "moved"})
		}
	}
	for _, b := range from {
		if !seen[b.ID] {
			result = append(result, BlockDiff{BlockID: b.ID, Type: b.Type, Change: "removed"})
		}
	}
	return result
}

func (s *Service) openOrInit(documentID string) (*git.Repository, bool, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func versionTag(version int) string {
	return "v" + strconv.Itoa(version)
}

func resolveTag(repo *git.Repository, name string) (plumbing.Hash, error) {
	ref, err := repo.Tag(name)
	if errors.Is(err, git.ErrTagNotFound) {
		return plumbing.ZeroHash, ErrVersionNotFound
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve tag %s: %w", name, err)
	}
	if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
		return tagObj.Target, nil
	}
	return ref.Hash(), nil
}

func tagsByCommit(repo *git.Repository) (map[plumbing.Hash]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()

	out := make(map[plumbing.Hash]string)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
			target = tagObj.Target
		}
		out[target] = ref.Name().Short()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

func readSnapshotFromCommit(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toCommitInfo(commitObj *object.Commit, tag string) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
		Tag:       tag,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func normalizeProps(p blocks.Props) []byte {
	normalized, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return normalized
}
