package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"

	"github.com/llm-x/llmx/pkg/blob"
	"github.com/llm-x/llmx/pkg/chat"
)

// messageSnapshot is the exported shape of one message. It mirrors the
// record, with image references optionally replaced by inline data URLs.
type messageSnapshot struct {
	*chat.MessageModel
	Images []string `json:"images,omitempty"`
}

// chatSnapshot bundles a chat with its messages in display order.
type chatSnapshot struct {
	*chat.ChatModel
	Messages []*messageSnapshot `json:"messages"`
}

func (s *SQLiteStore) exportMessage(ctx context.Context, record *chat.MessageModel, options chat.ExportOptions) (json.RawMessage, error) {
	snapshot := &messageSnapshot{MessageModel: record}

	if options.IncludeImages {
		for _, variation := range record.Variations {
			for _, ref := range variation.ImageURLs {
				if dataURL, ok := blob.DataURL(s.blobs, ref); ok {
					snapshot.Images = append(snapshot.Images, dataURL)
				}
			}
		}
	}

	return json.Marshal(snapshot)
}

func (s *SQLiteStore) exportChat(ctx context.Context, record *chat.ChatModel, options chat.ExportOptions) (json.RawMessage, error) {
	loaded, err := s.messages.FindByIDs(ctx, record.MessageIDs)
	if err != nil {
		return nil, err
	}

	byID := make(map[chat.NodeID]*chat.MessageModel, len(loaded))
	for _, message := range loaded {
		byID[message.ID] = message
	}

	snapshot := &chatSnapshot{ChatModel: record}
	for _, id := range record.MessageIDs {
		message, ok := byID[id]
		if !ok {
			continue
		}
		raw, err := s.exportMessage(ctx, message, options)
		if err != nil {
			return nil, err
		}
		var messageSnap messageSnapshot
		if err := json.Unmarshal(raw, &messageSnap); err != nil {
			return nil, err
		}
		snapshot.Messages = append(snapshot.Messages, &messageSnap)
	}

	return json.Marshal(snapshot)
}

// ExportDocument is the user-facing chat export file.
type ExportDocument struct {
	Chat              json.RawMessage `json:"_chat"`
	DatabaseTimestamp int             `json:"databaseTimestamp"`
}

// ExportFilename derives the export file name from the chat's name,
// lower-kebab-cased.
func ExportFilename(chatName string) string {
	name := strcase.ToKebab(chatName)
	if name == "" {
		name = "chat"
	}
	return name + ".json"
}

// WriteChatExport exports record into dir and returns the written path.
func (s *SQLiteStore) WriteChatExport(ctx context.Context, record *chat.ChatModel, dir string, options chat.ExportOptions) (string, error) {
	snapshot, err := s.chats.Export(ctx, record, options)
	if err != nil {
		return "", err
	}

	document, err := json.MarshalIndent(ExportDocument{
		Chat:              snapshot,
		DatabaseTimestamp: SchemaVersion,
	}, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "could not encode export document")
	}

	path := filepath.Join(dir, ExportFilename(record.Name))
	if err := os.WriteFile(path, document, 0644); err != nil {
		return "", errors.Wrapf(err, "could not write export file %s", path)
	}
	return path, nil
}
