// Package review implements the multi-author review workflow of a document:
// threaded comments with reactions, tracked changes gated by approval and the
// draft → in_review → approved → published lifecycle.
//
// Every operation checks permissions and status before touching the document.
// A failed operation leaves the document unchanged. Callers serialize access
// to a single document; the package does no locking and no I/O.
package review

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"coauthor/api/internal/blocks"
	"coauthor/api/internal/rbac"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusInReview  Status = "in_review"
	StatusApproved  Status = "approved"
	StatusPublished Status = "published"
)

type CommentType string

const (
	CommentPlain         CommentType = "comment"
	CommentSuggestion    CommentType = "suggestion"
	CommentApproval      CommentType = "approval"
	CommentChangeRequest CommentType = "change_request"
)

type CommentStatus string

const (
	CommentOpen      CommentStatus = "open"
	CommentResolved  CommentStatus = "resolved"
	CommentDismissed CommentStatus = "dismissed"
)

type Reaction string

const (
	ReactionLike    Reaction = "like"
	ReactionDislike Reaction = "dislike"
)

type ChangeType string

const (
	ChangeTextEdit    ChangeType = "text_edit"
	ChangeStructure   ChangeType = "structure_change"
	ChangeImageUpdate ChangeType = "image_update"
	ChangeMetadata    ChangeType = "metadata_change"
)

type ChangeStatus string

const (
	ChangePending  ChangeStatus = "pending"
	ChangeApproved ChangeStatus = "approved"
	ChangeRejected ChangeStatus = "rejected"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type Author struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	Role        rbac.Role        `json:"role"`
	Permissions rbac.Permissions `json:"permissions"`
	LastActive  time.Time        `json:"lastActive"`
}

// Invitation is a pending author. It grants nothing until accepted.
type Invitation struct {
	ID          string           `json:"id"`
	Email       string           `json:"email"`
	Role        rbac.Role        `json:"role"`
	Permissions rbac.Permissions `json:"permissions"`
	InvitedBy   string           `json:"invitedBy"`
	InvitedAt   time.Time        `json:"invitedAt"`
}

// Note holds the fields shared by top-level comments and replies. ParentID is
// set only on replies.
type Note struct {
	ID            string              `json:"id"`
	AuthorID      string              `json:"authorId"`
	Content       string              `json:"content"`
	Timestamp     time.Time           `json:"timestamp"`
	Type          CommentType         `json:"type"`
	Status        CommentStatus       `json:"status"`
	TargetElement string              `json:"targetElement,omitempty"`
	ParentID      string              `json:"parentId,omitempty"`
	Reactions     map[string]Reaction `json:"reactions,omitempty"`
	ResolvedBy    string              `json:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time          `json:"resolvedAt,omitempty"`
}

// ReactionSummary is the reaction state of a note as seen by one author.
type ReactionSummary struct {
	Likes        int      `json:"likes"`
	Dislikes     int      `json:"dislikes"`
	UserReaction Reaction `json:"userReaction,omitempty"`
}

// ReactionsFor summarises reactions for viewerID.
func (n Note) ReactionsFor(viewerID string) ReactionSummary {
	var s ReactionSummary
	for authorID, r := range n.Reactions {
		switch r {
		case ReactionLike:
			s.Likes++
		case ReactionDislike:
			s.Dislikes++
		}
		if authorID == viewerID {
			s.UserReaction = r
		}
	}
	return s
}

// Comment is a top-level comment. Replies cannot themselves be replied to.
type Comment struct {
	Note
	Replies []Reply `json:"replies"`
}

type Reply struct {
	Note
}

type Change struct {
	ID          string          `json:"id"`
	AuthorID    string          `json:"authorId"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        ChangeType      `json:"type"`
	Description string          `json:"description"`
	BlockID     string          `json:"blockId,omitempty"`
	OldValue    json.RawMessage `json:"oldValue,omitempty"`
	NewValue    json.RawMessage `json:"newValue,omitempty"`
	Status      ChangeStatus    `json:"status"`
	ApprovedBy  string          `json:"approvedBy,omitempty"`
	ReviewedBy  string          `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time      `json:"reviewedAt,omitempty"`
}

type ApprovalStatus struct {
	Required  int      `json:"required"`
	Approved  int      `json:"approved"`
	Approvers []string `json:"approvers"`
}

// Document is the collaborative document aggregate. Revision counts committed
// mutations and is used for optimistic concurrency; CurrentVersion numbers
// published versions of the content.
type Document struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Type              string         `json:"type"`
	Status            Status         `json:"status"`
	Authors           []Author       `json:"authors"`
	Invitations       []Invitation   `json:"invitations"`
	Comments          []Comment      `json:"comments"`
	Changes           []Change       `json:"changes"`
	Blocks            []blocks.Block `json:"blocks"`
	CurrentVersion    int            `json:"currentVersion"`
	Revision          int64          `json:"revision"`
	WordCount         int            `json:"wordCount"`
	ApprovalStatus    ApprovalStatus `json:"approvalStatus"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	PublishedAt       *time.Time     `json:"publishedAt,omitempty"`
	PreviousVersionID string         `json:"previousVersionId,omitempty"`
	NextVersionID     string         `json:"nextVersionId,omitempty"`
}

// Clone returns a deep copy of d. Block props and raw change values are never
// mutated in place and are shared.
func (d *Document) Clone() *Document {
	c := *d
	c.Authors = slices.Clone(d.Authors)
	c.Invitations = slices.Clone(d.Invitations)
	c.Changes = slices.Clone(d.Changes)
	c.Blocks = slices.Clone(d.Blocks)
	c.ApprovalStatus.Approvers = slices.Clone(d.ApprovalStatus.Approvers)
	if d.PublishedAt != nil {
		t := *d.PublishedAt
		c.PublishedAt = &t
	}
	c.Comments = slices.Clone(d.Comments)
	for i := range c.Comments {
		cm := &c.Comments[i]
		cm.Note = cm.Note.Clone()
		cm.Replies = slices.Clone(cm.Replies)
		for j := range cm.Replies {
			cm.Replies[j].Note = cm.Replies[j].Note.Clone()
		}
	}
	return &c
}

// Clone returns a copy of n that shares no reactions with n.
func (n Note) Clone() Note {
	n.Reactions = maps.Clone(n.Reactions)
	if n.ResolvedAt != nil {
		t := *n.ResolvedAt
		n.ResolvedAt = &t
	}
	return n
}

// Author returns the author with id.
func (d *Document) Author(id string) (Author, bool) {
	i := d.authorIndex(id)
	if i < 0 {
		return Author{}, false
	}
	return d.Authors[i], true
}

// Note returns the comment or reply with id.
func (d *Document) Note(id string) (Note, bool) {
	n := d.note(id)
	if n == nil {
		return Note{}, false
	}
	return n.Clone(), true
}

// Change returns the change with id.
func (d *Document) Change(id string) (Change, bool) {
	i := d.changeIndex(id)
	if i < 0 {
		return Change{}, false
	}
	return d.Changes[i], true
}

// Block returns the block with id.
func (d *Document) Block(id string) (blocks.Block, bool) {
	i := d.blockIndex(id)
	if i < 0 {
		return blocks.Block{}, false
	}
	return d.Blocks[i], true
}

func (d *Document) authorIndex(id string) int {
	return slices.IndexFunc(d.Authors, func(a Author) bool { return a.ID == id })
}

func (d *Document) changeIndex(id string) int {
	return slices.IndexFunc(d.Changes, func(c Change) bool { return c.ID == id })
}

func (d *Document) blockIndex(id string) int {
	return slices.IndexFunc(d.Blocks, func(b blocks.Block) bool { return b.ID == id })
}

func (d *Document) note(id string) *Note {
	for i := range d.Comments {
		if d.Comments[i].ID == id {
			return &d.Comments[i].Note
		}
		for j := range d.Comments[i].Replies {
			if d.Comments[i].Replies[j].ID == id {
				return &d.Comments[i].Replies[j].Note
			}
		}
	}
	return nil
}
