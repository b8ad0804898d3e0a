package generation_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-x/llmx/pkg/blob"
	"github.com/llm-x/llmx/pkg/chat"
	"github.com/llm-x/llmx/pkg/connection"
	"github.com/llm-x/llmx/pkg/generation"
	"github.com/llm-x/llmx/pkg/store"
)

func TestBuildTranscriptStopsAtTarget(t *testing.T) {
	chats := store.NewMemoryTable[*chat.ChatModel]()
	messages := store.NewMemoryTable[*chat.MessageModel]()
	blobs := blob.NewMemoryStore()
	ctx := context.Background()

	record, err := chats.Create(ctx, &chat.ChatModel{})
	require.NoError(t, err)
	view := chat.NewChatViewModel(record, chats, messages, blobs)

	_, err = view.AddUserMessage(ctx, "first question")
	require.NoError(t, err)
	reply, err := view.AddIncomingMessage(ctx, "llama3", "ollama")
	require.NoError(t, err)
	require.NoError(t, reply.OverwriteVariation(0, "first answer", nil))
	_, err = view.AddUserMessage(ctx, "second question")
	require.NoError(t, err)
	target, err := view.AddIncomingMessage(ctx, "llama3", "ollama")
	require.NoError(t, err)

	transcript := generation.BuildTranscript(view.Messages(), target, "be curt", blobs)

	require.Len(t, transcript, 4)
	assert.Equal(t, connection.RoleSystem, transcript[0].Role)
	assert.Equal(t, "be curt", transcript[0].Text)
	assert.Equal(t, connection.RoleUser, transcript[1].Role)
	assert.Equal(t, "first question", transcript[1].Text)
	assert.Equal(t, connection.RoleAssistant, transcript[2].Role)
	assert.Equal(t, "first answer", transcript[2].Text)
	assert.Equal(t, connection.RoleUser, transcript[3].Role)
	assert.Equal(t, "second question", transcript[3].Text)
}

func TestBuildTranscriptSkipsEmptyAndResolvesImages(t *testing.T) {
	chats := store.NewMemoryTable[*chat.ChatModel]()
	messages := store.NewMemoryTable[*chat.MessageModel]()
	blobs := blob.NewMemoryStore()
	ctx := context.Background()

	record, err := chats.Create(ctx, &chat.ChatModel{})
	require.NoError(t, err)
	view := chat.NewChatViewModel(record, chats, messages, blobs)

	img := image.NewGray(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	_, err = view.PreviewImages().AddPreviewImage(buf.Bytes())
	require.NoError(t, err)

	_, err = view.AddUserMessage(ctx, "what is this")
	require.NoError(t, err)

	// an empty bot placeholder that never got filled
	_, err = view.AddIncomingMessage(ctx, "llama3", "ollama")
	require.NoError(t, err)

	target, err := view.AddIncomingMessage(ctx, "llama3", "ollama")
	require.NoError(t, err)

	transcript := generation.BuildTranscript(view.Messages(), target, "", blobs)

	require.Len(t, transcript, 1, "the unfilled placeholder is skipped")
	assert.Equal(t, connection.RoleUser, transcript[0].Role)
	require.Len(t, transcript[0].Images, 1)
	assert.Equal(t, "image/png", transcript[0].Images[0].MediaType)
	assert.Equal(t, buf.Bytes(), transcript[0].Images[0].Data)
}
