// Package store persists chat and message records in SQLite. Records are
// kept as JSON documents keyed by id, one table per entity kind; the view
// models only ever talk to the chat.Table interfaces this package
// implements.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/llm-x/llmx/pkg/blob"
	"github.com/llm-x/llmx/pkg/chat"
)

// SchemaVersion is written into export documents as databaseTimestamp so a
// future importer can tell which shape it is looking at.
const SchemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	record TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	record TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// persistable is what the generic table needs from a record type.
type persistable interface {
	RecordID() chat.NodeID
	InitRecord(id chat.NodeID, now time.Time)
}

// SQLiteStore owns the database handle and hands out the per-entity tables.
type SQLiteStore struct {
	db    *sqlx.DB
	blobs blob.Store

	chats    *table[*chat.ChatModel]
	messages *table[*chat.MessageModel]
}

// Open connects to (and if needed initializes) the database at path. Use
// ":memory:" for an ephemeral store.
func Open(path string, blobs blob.Store) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open database %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "could not initialize schema")
	}

	s := &SQLiteStore{db: db, blobs: blobs}
	s.messages = &table[*chat.MessageModel]{db: db, name: "messages", export: s.exportMessage}
	s.chats = &table[*chat.ChatModel]{db: db, name: "chats", export: s.exportChat}

	log.Debug().Str("path", path).Msg("opened chat store")
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Chats() chat.ChatTable {
	return s.chats
}

func (s *SQLiteStore) Messages() chat.MessageTable {
	return s.messages
}

// table is the generic persistence implementation shared by both entity
// kinds.
type table[R persistable] struct {
	db     *sqlx.DB
	name   string
	export func(ctx context.Context, record R, options chat.ExportOptions) (json.RawMessage, error)
}

func (t *table[R]) Create(ctx context.Context, partial R) (R, error) {
	partial.InitRecord(chat.NewNodeID(), time.Now().UTC())

	if err := t.Put(ctx, partial); err != nil {
		var zero R
		return zero, err
	}
	return partial, nil
}

func (t *table[R]) Put(ctx context.Context, record R) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrapf(err, "could not encode %s record", t.name)
	}

	query := `INSERT INTO ` + t.name + ` (id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`
	_, err = t.db.ExecContext(ctx, query, record.RecordID().String(), string(payload), time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "could not put %s record %s", t.name, record.RecordID())
	}
	return nil
}

func (t *table[R]) Destroy(ctx context.Context, record R) error {
	return t.DestroyMany(ctx, []chat.NodeID{record.RecordID()})
}

func (t *table[R]) DestroyMany(ctx context.Context, ids []chat.NodeID) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`DELETE FROM `+t.name+` WHERE id IN (?)`, idStrings(ids))
	if err != nil {
		return errors.Wrapf(err, "could not build delete for %s", t.name)
	}
	if _, err := t.db.ExecContext(ctx, t.db.Rebind(query), args...); err != nil {
		return errors.Wrapf(err, "could not destroy %s records", t.name)
	}
	return nil
}

func (t *table[R]) FindByIDs(ctx context.Context, ids []chat.NodeID) ([]R, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT record FROM `+t.name+` WHERE id IN (?)`, idStrings(ids))
	if err != nil {
		return nil, errors.Wrapf(err, "could not build select for %s", t.name)
	}

	var payloads []string
	if err := t.db.SelectContext(ctx, &payloads, t.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "could not load %s records", t.name)
	}

	records := make([]R, 0, len(payloads))
	for _, payload := range payloads {
		var record R
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, errors.Wrapf(err, "could not decode %s record", t.name)
		}
		records = append(records, record)
	}
	return records, nil
}

func (t *table[R]) Export(ctx context.Context, record R, options chat.ExportOptions) (json.RawMessage, error) {
	return t.export(ctx, record, options)
}

func idStrings(ids []chat.NodeID) []string {
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		result = append(result, id.String())
	}
	return result
}
