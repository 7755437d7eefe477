// Package notify delivers author invitations to the collaborators that act on
// them: a Redis pending-invite record with pub/sub fan-out, and email.
package notify

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// InviteNotice describes a pending invitation.
type InviteNotice struct {
	InvitationID  string    `json:"invitationId"`
	DocumentID    string    `json:"documentId"`
	DocumentTitle string    `json:"documentTitle"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	InvitedBy     string    `json:"invitedBy"`
	InvitedAt     time.Time `json:"invitedAt"`
}

type Notifier interface {
	AuthorInvited(ctx context.Context, notice InviteNotice) error
}

// Fanout delivers a notice to every notifier concurrently. The first failure
// is returned after all deliveries finish.
type Fanout []Notifier

func (f Fanout) AuthorInvited(ctx context.Context, notice InviteNotice) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range f {
		if n == nil {
			continue
		}
		g.Go(func() error {
			return n.AuthorInvited(ctx, notice)
		})
	}
	return g.Wait()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice InviteNotice) error

func (fn NotifierFunc) AuthorInvited(ctx context.Context, notice InviteNotice) error {
	return fn(ctx, notice)
}
