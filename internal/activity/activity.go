// Package activity merges a document's comments, replies and changes into a
// single timeline, newest first.
package activity

import (
	"iter"
	"slices"
	"time"

	"coauthor/api/internal/review"
)

type Kind string

const (
	KindComment Kind = "comment"
	KindChange  Kind = "change"
)

// Event is one timeline entry. Exactly one of Comment and Change is set.
// Replies are comment events whose ParentID is non-empty.
type Event struct {
	Kind      Kind           `json:"kind"`
	AuthorID  string         `json:"authorId"`
	Timestamp time.Time      `json:"timestamp"`
	Comment   *review.Note   `json:"comment,omitempty"`
	Change    *review.Change `json:"change,omitempty"`
}

// Timeline returns the events of doc ordered by descending timestamp. Events
// with equal timestamps keep document order: each comment followed by its
// replies, then changes. Every range over the sequence rebuilds it from doc,
// so the sequence can be consumed any number of times with the same result.
// doc is only read.
func Timeline(doc *review.Document) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for _, e := range sorted(doc) {
			if !yield(e) {
				return
			}
		}
	}
}

// Collect gathers up to limit events from seq. A limit of zero or less
// collects everything.
func Collect(seq iter.Seq[Event], limit int) []Event {
	out := []Event{}
	for e := range seq {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out
}

func sorted(doc *review.Document) []Event {
	events := make([]Event, 0, len(doc.Comments)+len(doc.Changes))
	for _, c := range doc.Comments {
		events = append(events, noteEvent(c.Note))
		for _, r := range c.Replies {
			events = append(events, noteEvent(r.Note))
		}
	}
	for _, ch := range doc.Changes {
		events = append(events, Event{Kind: KindChange, AuthorID: ch.AuthorID, Timestamp: ch.Timestamp, Change: &ch})
	}
	slices.SortStableFunc(events, func(a, b Event) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return events
}

func noteEvent(n review.Note) Event {
	n = n.Clone()
	return Event{Kind: KindComment, AuthorID: n.AuthorID, Timestamp: n.Timestamp, Comment: &n}
}
