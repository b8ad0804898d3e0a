package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/huandu/go-clone"

	"github.com/llm-x/llmx/pkg/chat"
)

// MemoryTable keeps records in process memory. It backs tests and sessions
// that do not need persistence across restarts. Records are deep-cloned on
// the way in and out, matching the isolation a database round-trip gives.
type MemoryTable[R persistable] struct {
	mu      sync.Mutex
	records map[chat.NodeID]R

	// FailPuts makes every Put return this error, for exercising caller
	// rollback paths.
	FailPuts error
}

var _ chat.Table[*chat.ChatModel] = (*MemoryTable[*chat.ChatModel])(nil)

func NewMemoryTable[R persistable]() *MemoryTable[R] {
	return &MemoryTable[R]{records: make(map[chat.NodeID]R)}
}

func (t *MemoryTable[R]) Create(ctx context.Context, partial R) (R, error) {
	partial.InitRecord(chat.NewNodeID(), time.Now().UTC())
	if err := t.Put(ctx, partial); err != nil {
		var zero R
		return zero, err
	}
	return partial, nil
}

func (t *MemoryTable[R]) Put(ctx context.Context, record R) error {
	if t.FailPuts != nil {
		return t.FailPuts
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[record.RecordID()] = clone.Clone(record).(R)
	return nil
}

func (t *MemoryTable[R]) Destroy(ctx context.Context, record R) error {
	return t.DestroyMany(ctx, []chat.NodeID{record.RecordID()})
}

func (t *MemoryTable[R]) DestroyMany(ctx context.Context, ids []chat.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.records, id)
	}
	return nil
}

func (t *MemoryTable[R]) FindByIDs(ctx context.Context, ids []chat.NodeID) ([]R, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var result []R
	for _, id := range ids {
		if record, ok := t.records[id]; ok {
			result = append(result, clone.Clone(record).(R))
		}
	}
	return result, nil
}

func (t *MemoryTable[R]) Export(ctx context.Context, record R, options chat.ExportOptions) (json.RawMessage, error) {
	return json.Marshal(record)
}

func (t *MemoryTable[R]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
