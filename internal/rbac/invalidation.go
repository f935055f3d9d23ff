package rbac

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// invalidationChannel carries cache invalidation events between processes.
// Every process holds its own in-memory caches; a matrix write anywhere must
// flush them everywhere.
const invalidationChannel = "rbac:invalidate"

// Broadcaster publishes and consumes cross-process cache invalidations.
type Broadcaster struct {
	client *redis.Client
	logger *slog.Logger
}

// NewBroadcaster constructs a Broadcaster. A nil client disables broadcasting.
func NewBroadcaster(client *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{client: client, logger: logger}
}

// PublishAll announces a full cache flush.
func (b *Broadcaster) PublishAll(ctx context.Context) {
	b.publish(ctx, "all")
}

// PublishUser announces invalidation of a single user's entries.
func (b *Broadcaster) PublishUser(ctx context.Context, userID int64) {
	b.publish(ctx, "user:"+strconv.FormatInt(userID, 10))
}

// PublishRole announces invalidation of every result affected by a role's
// grant set. User→role entries survive on the receiving side.
func (b *Broadcaster) PublishRole(ctx context.Context, roleID int64) {
	b.publish(ctx, "role:"+strconv.FormatInt(roleID, 10))
}

func (b *Broadcaster) publish(ctx context.Context, message string) {
	if b == nil || b.client == nil {
		return
	}
	if err := b.client.Publish(ctx, invalidationChannel, message).Err(); err != nil && b.logger != nil {
		b.logger.Warn("publish cache invalidation", slog.String("message", message), slog.Any("error", err))
	}
}

// Listen applies invalidation events to the resolver until the context ends.
// Run on its own goroutine.
func (b *Broadcaster) Listen(ctx context.Context, resolver *Resolver) {
	if b == nil || b.client == nil {
		return
	}
	sub := b.client.Subscribe(ctx, invalidationChannel)
	defer func() { _ = sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			b.apply(resolver, msg.Payload)
		}
	}
}

func (b *Broadcaster) apply(resolver *Resolver, payload string) {
	switch {
	case payload == "all":
		resolver.InvalidateAll()
	case strings.HasPrefix(payload, "user:"):
		userID, err := strconv.ParseInt(strings.TrimPrefix(payload, "user:"), 10, 64)
		if err != nil {
			if b.logger != nil {
				b.logger.Warn("malformed invalidation payload", slog.String("payload", payload))
			}
			return
		}
		resolver.InvalidateUser(userID)
	case strings.HasPrefix(payload, "role:"):
		roleID, err := strconv.ParseInt(strings.TrimPrefix(payload, "role:"), 10, 64)
		if err != nil {
			if b.logger != nil {
				b.logger.Warn("malformed invalidation payload", slog.String("payload", payload))
			}
			return
		}
		resolver.InvalidateRole(roleID)
	default:
		if b.logger != nil {
			b.logger.Warn("unknown invalidation payload", slog.String("payload", payload))
		}
	}
}
