package ports

import (
	"context"
	"time"
)

// Fields is the untyped body of a store document.
type Fields map[string]interface{}

// Unsubscribe cancels a store subscription. It is safe to call more than once.
type Unsubscribe func()

type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeRemoved ChangeType = "removed"
)

// DocumentChange is one add/remove event of a collection subscription.
type DocumentChange struct {
	Type   ChangeType
	ID     string
	Fields Fields
}

// DocumentStore is the signaling rendezvous: a shared document store with
// per-document and per-collection change subscriptions. Paths are slash
// separated, alternating collection and document segments
// ("rooms/r1/signals/g1").
type DocumentStore interface {
	// CreateDocument writes a whole document, replacing any existing body.
	CreateDocument(ctx context.Context, path string, fields Fields) error
	// MergeDocument writes the given top-level fields without touching others.
	MergeDocument(ctx context.Context, path string, fields Fields) error
	DeleteDocument(ctx context.Context, path string) error
	// AddToCollection appends a document under an autogenerated id.
	AddToCollection(ctx context.Context, collection string, fields Fields) (string, error)
	// SubscribeDocument delivers the current body (if any) and every later write.
	SubscribeDocument(ctx context.Context, path string, onChange func(Fields)) (Unsubscribe, error)
	// SubscribeCollection delivers existing documents as added, then adds and removes.
	SubscribeCollection(ctx context.Context, collection string, onChange func(DocumentChange)) (Unsubscribe, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// DocumentTTL is applied by stores that support expiry.
const DocumentTTL = 10 * time.Minute
