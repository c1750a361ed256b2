// Package store defines the archive collaborator: durable storage for a
// document's current text and its accepted-operation log, independent of
// the live session that mutates it. It is peripheral to the collaboration
// algorithm itself — a Session never blocks on it, and a bootstrap
// failure only means a session starts empty.
package store

import (
	"context"
	"time"

	"github.com/docsync/docsync/ot"
)

// DocumentInfo holds document metadata and content.
type DocumentInfo struct {
	ID        string
	Content   string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStore abstracts document persistence. Implementations: MemoryStore
// (default, tests), CachedStore (write-behind wrapper around any other
// backend), FirestoreStore, RedisStore, PostgresStore.
type DocumentStore interface {
	Create(ctx context.Context, id, content string) error
	Get(ctx context.Context, id string) (*DocumentInfo, error)
	List(ctx context.Context) ([]DocumentInfo, error)
	UpdateContent(ctx context.Context, id, content string, version int) error
	AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error
	GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error)
}
