package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Notifier is signaled whenever a document's revision advances, so a
// process other than the one that owns the live Session can learn that
// state changed. The single-process default needs none: an in-process
// Session already broadcasts directly to its own attached participants
// (session.Session.broadcastExcept). A Notifier only matters once more than
// one docsyncd process shares a document through a common archive store.
type Notifier interface {
	NotifyRevision(docID string, revision uint64)
}

// RedisNotifier publishes a revision-bump ping on a channel derived from the
// document id after every accepted submission, and can be subscribed to by
// other processes wanting to know a document changed without polling the
// archive store. It never carries the operation itself — only that a
// change happened — so it adds no correctness burden on top of the
// single-process submission algorithm; it only changes how fast a sibling
// process finds out.
type RedisNotifier struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisNotifier wraps an existing Redis client.
func NewRedisNotifier(client *redis.Client, logger zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) channel(docID string) string {
	return "docsync:revision:" + docID
}

// NotifyRevision implements Notifier.
func (n *RedisNotifier) NotifyRevision(docID string, revision uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.client.Publish(ctx, n.channel(docID), fmt.Sprintf("%d", revision)).Err(); err != nil {
		n.logger.Warn().Err(err).Str("doc", docID).Msg("redis notify publish failed")
	}
}

// Subscribe returns a channel of revision numbers published for docID by
// any process, including this one. Callers must cancel ctx to stop
// receiving and release the subscription.
func (n *RedisNotifier) Subscribe(ctx context.Context, docID string) <-chan uint64 {
	sub := n.client.Subscribe(ctx, n.channel(docID))
	out := make(chan uint64, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rev uint64
				if _, err := fmt.Sscanf(msg.Payload, "%d", &rev); err == nil {
					select {
					case out <- rev:
					default:
					}
				}
			}
		}
	}()
	return out
}
