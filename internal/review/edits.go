package review

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"coauthor/api/internal/blocks"
	"coauthor/api/internal/rbac"
)

// Block edits replace whole blocks; the last writer wins. Each edit is
// recorded as a pending change so it goes through review like any other.

// AddBlock inserts b at index. An index of -1 appends.
func (d *Document) AddBlock(actorID string, b blocks.Block, index int, now time.Time) (Change, error) {
	actor, err := d.authorizeEdit(actorID)
	if err != nil {
		return Change{}, err
	}
	if errs := blocks.ValidateBlock(b); len(errs) > 0 {
		return Change{}, errs
	}
	if d.blockIndex(b.ID) >= 0 {
		return Change{}, invalid("id", "block "+b.ID+" already exists")
	}
	if index == -1 {
		index = len(d.Blocks)
	}
	if index < 0 || index > len(d.Blocks) {
		return Change{}, invalid("index", fmt.Sprintf("index must be between 0 and %d", len(d.Blocks)))
	}

	d.Blocks = slices.Insert(d.Blocks, index, b)
	d.WordCount = blocks.WordCount(d.Blocks)
	return d.recordChange(actor, NewChange{
		Type:        ChangeStructure,
		Description: fmt.Sprintf("Added %s block", b.Type),
		BlockID:     b.ID,
		NewValue:    mustJSON(b),
	}, now), nil
}

// ReplaceBlock swaps the props of an existing block. The block keeps its id
// and type.
func (d *Document) ReplaceBlock(actorID, blockID string, props blocks.Props, now time.Time) (Change, error) {
	actor, err := d.authorizeEdit(actorID)
	if err != nil {
		return Change{}, err
	}
	i := d.blockIndex(blockID)
	if i < 0 {
		return Change{}, notFound("block", blockID)
	}
	old := d.Blocks[i]
	if props == nil || props.Type() != old.Type {
		return Change{}, invalid("props", fmt.Sprintf("props must be of block type %q", old.Type))
	}
	updated := old.WithProps(props, now)
	if errs := blocks.ValidateBlock(updated); len(errs) > 0 {
		return Change{}, errs
	}

	d.Blocks[i] = updated
	d.WordCount = blocks.WordCount(d.Blocks)
	kind := ChangeTextEdit
	if old.Type == blocks.TypeImage {
		kind = ChangeImageUpdate
	}
	return d.recordChange(actor, NewChange{
		Type:        kind,
		Description: fmt.Sprintf("Updated %s block", old.Type),
		BlockID:     blockID,
		OldValue:    mustJSON(old),
		NewValue:    mustJSON(updated),
	}, now), nil
}

func (d *Document) RemoveBlock(actorID, blockID string, now time.Time) (Change, error) {
	actor, err := d.authorizeEdit(actorID)
	if err != nil {
		return Change{}, err
	}
	i := d.blockIndex(blockID)
	if i < 0 {
		return Change{}, notFound("block", blockID)
	}
	old := d.Blocks[i]
	d.Blocks = slices.Delete(d.Blocks, i, i+1)
	d.WordCount = blocks.WordCount(d.Blocks)
	return d.recordChange(actor, NewChange{
		Type:        ChangeStructure,
		Description: fmt.Sprintf("Removed %s block", old.Type),
		BlockID:     blockID,
		OldValue:    mustJSON(old),
	}, now), nil
}

// MoveBlock moves a block so that it ends up at index.
func (d *Document) MoveBlock(actorID, blockID string, index int, now time.Time) (Change, error) {
	actor, err := d.authorizeEdit(actorID)
	if err != nil {
		return Change{}, err
	}
	from := d.blockIndex(blockID)
	if from < 0 {
		return Change{}, notFound("block", blockID)
	}
	if index < 0 || index >= len(d.Blocks) {
		return Change{}, invalid("index", fmt.Sprintf("index must be between 0 and %d", len(d.Blocks)-1))
	}

	b := d.Blocks[from]
	rest := slices.Delete(slices.Clone(d.Blocks), from, from+1)
	d.Blocks = slices.Insert(rest, index, b)
	return d.recordChange(actor, NewChange{
		Type:        ChangeStructure,
		Description: fmt.Sprintf("Moved %s block", b.Type),
		BlockID:     blockID,
		OldValue:    mustJSON(map[string]int{"index": from}),
		NewValue:    mustJSON(map[string]int{"index": index}),
	}, now), nil
}

// NewVersion starts the next draft of a published document. A published
// version has at most one successor: its id is recorded in NextVersionID and
// a second call fails. Nothing else on d changes.
func (d *Document) NewVersion(actorID, newID string, now time.Time) (*Document, error) {
	if d.Status != StatusPublished {
		return nil, d.transitionError("start a new version of")
	}
	if _, err := d.authorize(actorID, rbac.ActionEdit); err != nil {
		return nil, err
	}
	if d.NextVersionID != "" {
		return nil, d.transitionError("start another version of")
	}
	if newID == "" || newID == d.ID {
		return nil, invalid("id", "new version needs a fresh document id")
	}

	src := d.Clone()
	for i := range src.Authors {
		if src.Authors[i].ID == actorID {
			src.Authors[i].LastActive = now
		}
	}
	d.NextVersionID = newID
	return &Document{
		ID:                newID,
		Title:             src.Title,
		Type:              src.Type,
		Status:            StatusDraft,
		Authors:           src.Authors,
		Invitations:       []Invitation{},
		Comments:          []Comment{},
		Changes:           []Change{},
		Blocks:            src.Blocks,
		CurrentVersion:    d.CurrentVersion + 1,
		WordCount:         blocks.WordCount(src.Blocks),
		ApprovalStatus:    ApprovalStatus{Required: d.ApprovalStatus.Required, Approvers: []string{}},
		CreatedAt:         now,
		UpdatedAt:         now,
		PreviousVersionID: d.ID,
	}, nil
}

func (d *Document) authorizeEdit(actorID string) (*Author, error) {
	actor, err := d.authorize(actorID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusPublished {
		return nil, d.transitionError("edit")
	}
	return actor, nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("review: marshal %T: %v", v, err))
	}
	return raw
}
