package review

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"coauthor/api/internal/blocks"
	"coauthor/api/internal/rbac"
	"coauthor/api/internal/util"
	"coauthor/api/internal/validation"
)

// NewComment is the input of AddComment. A non-empty ParentID makes the
// comment a reply to that top-level comment.
type NewComment struct {
	Content       string      `json:"content"`
	Type          CommentType `json:"type"`
	ParentID      string      `json:"parentId,omitempty"`
	TargetElement string      `json:"targetElement,omitempty"`
}

// NewChange is the input of ProposeChange.
type NewChange struct {
	Type        ChangeType      `json:"type"`
	Description string          `json:"description"`
	BlockID     string          `json:"blockId,omitempty"`
	OldValue    json.RawMessage `json:"oldValue,omitempty"`
	NewValue    json.RawMessage `json:"newValue,omitempty"`
}

// NewDocument creates a draft document led by lead. The lead's permissions are
// seeded from the lead role.
func NewDocument(id, title, docType string, lead Author, required int, now time.Time) (*Document, error) {
	var errs blocks.ValidationErrors
	if strings.TrimSpace(id) == "" {
		errs = append(errs, blocks.ValidationError{Field: "id", Reason: "id is required"})
	}
	if strings.TrimSpace(title) == "" {
		errs = append(errs, blocks.ValidationError{Field: "title", Reason: "title must not be blank"})
	}
	if strings.TrimSpace(lead.ID) == "" {
		errs = append(errs, blocks.ValidationError{Field: "lead.id", Reason: "lead author id is required"})
	}
	if required < 1 {
		errs = append(errs, blocks.ValidationError{Field: "approvalStatus.required", Reason: "at least one approval is required"})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	lead.Role = rbac.RoleLead
	lead.Permissions = rbac.DefaultPermissions(rbac.RoleLead)
	lead.LastActive = now
	return &Document{
		ID:             id,
		Title:          strings.TrimSpace(title),
		Type:           docType,
		Status:         StatusDraft,
		Authors:        []Author{lead},
		Invitations:    []Invitation{},
		Comments:       []Comment{},
		Changes:        []Change{},
		Blocks:         []blocks.Block{},
		CurrentVersion: 1,
		ApprovalStatus: ApprovalStatus{Required: required, Approvers: []string{}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// SubmitForReview moves a draft into review.
func (d *Document) SubmitForReview(actorID string, now time.Time) error {
	actor, err := d.authorize(actorID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if d.Status != StatusDraft {
		return d.transitionError("submit")
	}
	d.Status = StatusInReview
	d.touch(actor, now)
	return nil
}

// AddComment appends a top-level comment, or a reply when in.ParentID is set.
// Replies are always plain open comments.
func (d *Document) AddComment(actorID string, in NewComment, now time.Time) (Note, error) {
	actor, err := d.authorize(actorID, rbac.ActionComment)
	if err != nil {
		return Note{}, err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return Note{}, invalid("content", "content must not be blank")
	}

	note := Note{
		ID:            util.NewID("cmt"),
		AuthorID:      actorID,
		Content:       content,
		Timestamp:     now,
		Type:          CommentPlain,
		Status:        CommentOpen,
		TargetElement: in.TargetElement,
	}

	if in.ParentID != "" {
		parent := slices.IndexFunc(d.Comments, func(c Comment) bool { return c.ID == in.ParentID })
		if parent < 0 {
			return Note{}, notFound("parent comment", in.ParentID)
		}
		note.ParentID = in.ParentID
		d.Comments[parent].Replies = append(d.Comments[parent].Replies, Reply{Note: note})
		d.touch(actor, now)
		return note, nil
	}

	switch in.Type {
	case "":
	case CommentPlain, CommentSuggestion, CommentApproval, CommentChangeRequest:
		note.Type = in.Type
	default:
		return Note{}, invalid("type", "type must be one of comment suggestion approval change_request")
	}
	d.Comments = append(d.Comments, Comment{Note: note, Replies: []Reply{}})
	d.touch(actor, now)
	return note, nil
}

// ReactToComment toggles actorID's reaction on a comment or reply. Repeating a
// reaction clears it; the opposite reaction replaces it.
func (d *Document) ReactToComment(commentID, actorID string, reaction Reaction, now time.Time) (Note, error) {
	actor, err := d.authorize(actorID, rbac.ActionComment)
	if err != nil {
		return Note{}, err
	}
	if reaction != ReactionLike && reaction != ReactionDislike {
		return Note{}, invalid("reaction", "reaction must be one of like dislike")
	}
	note := d.note(commentID)
	if note == nil {
		return Note{}, notFound("comment", commentID)
	}

	if note.Reactions[actorID] == reaction {
		delete(note.Reactions, actorID)
	} else {
		if note.Reactions == nil {
			note.Reactions = make(map[string]Reaction)
		}
		note.Reactions[actorID] = reaction
	}
	d.touch(actor, now)
	return *note, nil
}

// ResolveComment closes an open comment or reply as resolved or dismissed.
func (d *Document) ResolveComment(commentID, actorID string, status CommentStatus, now time.Time) (Note, error) {
	actor, err := d.authorize(actorID, rbac.ActionComment)
	if err != nil {
		return Note{}, err
	}
	if status != CommentResolved && status != CommentDismissed {
		return Note{}, invalid("status", "status must be one of resolved dismissed")
	}
	note := d.note(commentID)
	if note == nil {
		return Note{}, notFound("comment", commentID)
	}
	if note.Status != CommentOpen {
		return Note{}, &alreadyResolvedError{id: commentID, status: note.Status}
	}
	note.Status = status
	note.ResolvedBy = actorID
	note.ResolvedAt = &now
	d.touch(actor, now)
	return *note, nil
}

// ProposeChange records a pending change for review.
func (d *Document) ProposeChange(actorID string, in NewChange, now time.Time) (Change, error) {
	actor, err := d.authorize(actorID, rbac.ActionEdit)
	if err != nil {
		return Change{}, err
	}
	if d.Status == StatusPublished {
		return Change{}, d.transitionError("propose a change to")
	}
	var errs blocks.ValidationErrors
	switch in.Type {
	case ChangeTextEdit, ChangeStructure, ChangeImageUpdate, ChangeMetadata:
	default:
		errs = append(errs, blocks.ValidationError{
			Field:  "type",
			Reason: "type must be one of text_edit structure_change image_update metadata_change",
		})
	}
	if strings.TrimSpace(in.Description) == "" {
		errs = append(errs, blocks.ValidationError{Field: "description", Reason: "description must not be blank"})
	}
	if len(errs) > 0 {
		return Change{}, errs
	}
	return d.recordChange(actor, in, now), nil
}

// ReviewChange approves or rejects a pending change. The Nth distinct approver,
// where N is the required approval count, moves the document from in_review to
// approved.
func (d *Document) ReviewChange(changeID, reviewerID string, decision Decision, now time.Time) (Change, error) {
	reviewer, err := d.authorize(reviewerID, rbac.ActionApprove)
	if err != nil {
		return Change{}, err
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return Change{}, invalid("decision", "decision must be one of approve reject")
	}
	if d.Status != StatusInReview && d.Status != StatusApproved {
		return Change{}, d.transitionError("review a change of")
	}
	i := d.changeIndex(changeID)
	if i < 0 {
		return Change{}, notFound("change", changeID)
	}
	change := &d.Changes[i]
	if change.Status != ChangePending {
		return Change{}, &TransitionError{Entity: "change", ID: change.ID, From: string(change.Status), Op: string(decision)}
	}

	change.ReviewedBy = reviewerID
	change.ReviewedAt = &now
	if decision == DecisionReject {
		change.Status = ChangeRejected
		d.touch(reviewer, now)
		return *change, nil
	}

	change.Status = ChangeApproved
	change.ApprovedBy = reviewerID
	approval := &d.ApprovalStatus
	if !slices.Contains(approval.Approvers, reviewerID) {
		approval.Approvers = append(approval.Approvers, reviewerID)
	}
	approval.Approved = len(approval.Approvers)
	if d.Status == StatusInReview && approval.Approved >= approval.Required {
		d.Status = StatusApproved
	}
	d.touch(reviewer, now)
	return *change, nil
}

// Publish freezes an approved document. Status is checked before permissions.
func (d *Document) Publish(actorID string, now time.Time) error {
	if d.Status != StatusApproved || d.ApprovalStatus.Approved < d.ApprovalStatus.Required {
		return d.transitionError("publish")
	}
	actor, err := d.authorize(actorID, rbac.ActionPublish)
	if err != nil {
		return err
	}
	d.Status = StatusPublished
	d.PublishedAt = &now
	d.touch(actor, now)
	return nil
}

// InviteAuthor records a pending invitation with permissions seeded from role.
func (d *Document) InviteAuthor(inviterID, email, role string, now time.Time) (Invitation, error) {
	inviter, err := d.authorize(inviterID, rbac.ActionInvite)
	if err != nil {
		return Invitation{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	var errs blocks.ValidationErrors
	if err := validation.Var(email, "required,email"); err != nil {
		errs = append(errs, blocks.ValidationError{Field: "email", Reason: "email must be a valid email address"})
	}
	r, ok := rbac.Normalize(role)
	if !ok {
		errs = append(errs, blocks.ValidationError{Field: "role", Reason: "role must be one of lead contributor reviewer editor"})
	}
	if len(errs) > 0 {
		return Invitation{}, errs
	}
	taken := slices.ContainsFunc(d.Authors, func(a Author) bool { return strings.EqualFold(a.Email, email) }) ||
		slices.ContainsFunc(d.Invitations, func(inv Invitation) bool { return inv.Email == email })
	if taken {
		return Invitation{}, invalid("email", "email already belongs to an author or pending invitation")
	}

	inv := Invitation{
		ID:          util.NewID("inv"),
		Email:       email,
		Role:        r,
		Permissions: rbac.DefaultPermissions(r),
		InvitedBy:   inviterID,
		InvitedAt:   now,
	}
	d.Invitations = append(d.Invitations, inv)
	d.touch(inviter, now)
	return inv, nil
}

// AcceptInvitation turns a pending invitation into an author with the
// invited role. The accepting author's email must match the invitation.
func (d *Document) AcceptInvitation(invitationID string, a Author, now time.Time) (Author, error) {
	i := slices.IndexFunc(d.Invitations, func(inv Invitation) bool { return inv.ID == invitationID })
	if i < 0 {
		return Author{}, notFound("invitation", invitationID)
	}
	inv := d.Invitations[i]
	if !strings.EqualFold(strings.TrimSpace(a.Email), inv.Email) {
		return Author{}, &PermissionDeniedError{AuthorID: a.ID, Action: actionAccept}
	}
	if strings.TrimSpace(a.ID) == "" {
		return Author{}, invalid("id", "author id is required")
	}
	if d.authorIndex(a.ID) >= 0 {
		return Author{}, invalid("id", "author "+a.ID+" already belongs to the document")
	}

	a.Email = inv.Email
	a.Role = inv.Role
	a.Permissions = inv.Permissions
	a.LastActive = now
	d.Authors = append(d.Authors, a)
	d.Invitations = slices.Delete(d.Invitations, i, i+1)
	d.UpdatedAt = now
	return a, nil
}

func (d *Document) authorize(actorID string, action rbac.Action) (*Author, error) {
	i := d.authorIndex(actorID)
	if i < 0 || !rbac.Can(d.Authors[i].Permissions, action) {
		return nil, &PermissionDeniedError{AuthorID: actorID, Action: action}
	}
	return &d.Authors[i], nil
}

func (d *Document) transitionError(op string) error {
	return &TransitionError{Entity: "document", ID: d.ID, From: string(d.Status), Op: op}
}

func (d *Document) touch(actor *Author, now time.Time) {
	actor.LastActive = now
	d.UpdatedAt = now
}

func (d *Document) recordChange(actor *Author, in NewChange, now time.Time) Change {
	change := Change{
		ID:          util.NewID("chg"),
		AuthorID:    actor.ID,
		Timestamp:   now,
		Type:        in.Type,
		Description: strings.TrimSpace(in.Description),
		BlockID:     in.BlockID,
		OldValue:    in.OldValue,
		NewValue:    in.NewValue,
		Status:      ChangePending,
	}
	d.Changes = append(d.Changes, change)
	d.touch(actor, now)
	return change
}

const actionAccept rbac.Action = "accept invitation"

type alreadyResolvedError struct {
	id     string
	status CommentStatus
}

func (e *alreadyResolvedError) Error() string {
	return "comment " + e.id + " is already " + string(e.status)
}

func (e *alreadyResolvedError) Is(target error) bool {
	return target == ErrAlreadyResolved
}
