package chat

import (
	"context"
	"encoding/json"
)

// ExportOptions controls how a record is turned into a user-facing snapshot.
type ExportOptions struct {
	// IncludeImages inlines blob-backed image references as data URLs.
	IncludeImages bool
}

// Table is the persistence contract the view models drive. Implementations
// own id and timestamp generation; FindByIDs returns matching records in no
// particular order and silently skips ids that no longer resolve.
type Table[R any] interface {
	Create(ctx context.Context, partial R) (R, error)
	Put(ctx context.Context, record R) error
	Destroy(ctx context.Context, record R) error
	DestroyMany(ctx context.Context, ids []NodeID) error
	FindByIDs(ctx context.Context, ids []NodeID) ([]R, error)
	Export(ctx context.Context, record R, options ExportOptions) (json.RawMessage, error)
}

type ChatTable = Table[*ChatModel]
type MessageTable = Table[*MessageModel]
