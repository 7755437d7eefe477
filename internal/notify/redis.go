package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// InviteChannel is the pub/sub channel invitations are announced on.
const InviteChannel = "coauthor:invites"

// ErrInviteNotFound is returned when an invitation is unknown or expired.
var ErrInviteNotFound = errors.New("invitation not found or expired")

// RedisNotifier keeps pending invitations in Redis and announces them on
// InviteChannel.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisNotifier connects to redisURL and checks the connection.
func NewRedisNotifier(redisURL string, ttl time.Duration) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisNotifierWithClient(client, ttl), nil
}

// NewRedisNotifierWithClient creates a notifier from an existing Redis client.
func NewRedisNotifierWithClient(client *redis.Client, ttl time.Duration) *RedisNotifier {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisNotifier{
		client: client,
		prefix: "invite:",
		ttl:    ttl,
	}
}

func (n *RedisNotifier) key(invitationID string) string {
	return n.prefix + invitationID
}

// AuthorInvited stores the notice and publishes it.
func (n *RedisNotifier) AuthorInvited(ctx context.Context, notice InviteNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal invite: %w", err)
	}

	if err := n.client.Set(ctx, n.key(notice.InvitationID), payload, n.ttl).Err(); err != nil {
		return fmt.Errorf("store invite: %w", err)
	}
	if err := n.client.Publish(ctx, InviteChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish invite: %w", err)
	}
	return nil
}

// LookupInvite returns a pending invitation by id.
func (n *RedisNotifier) LookupInvite(ctx context.Context, invitationID string) (InviteNotice, error) {
	payload, err := n.client.Get(ctx, n.key(invitationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return InviteNotice{}, ErrInviteNotFound
	}
	if err != nil {
		return InviteNotice{}, fmt.Errorf("lookup invite: %w", err)
	}

	var notice InviteNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		return InviteNotice{}, fmt.Errorf("unmarshal invite: %w", err)
	}
	return notice, nil
}

// Subscribe streams announced invitations until ctx is done. The returned
// channel is closed when the subscription ends.
func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan InviteNotice, error) {
	sub := n.client.Subscribe(ctx, InviteChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe invites: %w", err)
	}

	out := make(chan InviteNotice)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var notice InviteNotice
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					continue
				}
				select {
				case out <- notice:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Ping checks if Redis is reachable.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}
