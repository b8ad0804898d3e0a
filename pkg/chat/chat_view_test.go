package chat_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-x/llmx/pkg/blob"
	"github.com/llm-x/llmx/pkg/chat"
	"github.com/llm-x/llmx/pkg/store"
)

type testChat struct {
	chats    *store.MemoryTable[*chat.ChatModel]
	messages *store.MemoryTable[*chat.MessageModel]
	blobs    *blob.MemoryStore
	view     *chat.ChatViewModel
}

func newTestChat(t *testing.T) *testChat {
	t.Helper()
	chats := store.NewMemoryTable[*chat.ChatModel]()
	messages := store.NewMemoryTable[*chat.MessageModel]()
	blobs := blob.NewMemoryStore()

	record, err := chats.Create(context.Background(), &chat.ChatModel{})
	require.NoError(t, err)

	return &testChat{
		chats:    chats,
		messages: messages,
		blobs:    blobs,
		view:     chat.NewChatViewModel(record, chats, messages, blobs),
	}
}

func testPNG(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Pix[0] = seed
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// recordingGenerator satisfies chat.VariationGenerator and captures the
// resolved target message.
type recordingGenerator struct {
	target *chat.MessageViewModel
}

func (g *recordingGenerator) GenerateVariation(ctx context.Context, chatView *chat.ChatViewModel, message *chat.MessageViewModel) error {
	g.target = message
	return nil
}

func TestAddUserMessageEmptyIsNoop(t *testing.T) {
	tc := newTestChat(t)

	wrapper, err := tc.view.AddUserMessage(context.Background(), "")
	require.NoError(t, err)

	assert.Nil(t, wrapper)
	assert.Empty(t, tc.view.Source().MessageIDs)
	assert.Empty(t, tc.view.Name())
	assert.Equal(t, 0, tc.messages.Len())
}

func TestAddUserMessageDerivesChatName(t *testing.T) {
	tc := newTestChat(t)

	wrapper, err := tc.view.AddUserMessage(context.Background(), "Hello")
	require.NoError(t, err)
	require.NotNil(t, wrapper)

	assert.Equal(t, "Hello", tc.view.Name())
	assert.Equal(t, []chat.NodeID{wrapper.ID()}, tc.view.Source().MessageIDs)

	// persisted copy matches
	records, err := tc.chats.FindByIDs(context.Background(), []chat.NodeID{tc.view.ID()})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Hello", records[0].Name)
}

func TestAddUserMessageTruncatesDerivedName(t *testing.T) {
	tc := newTestChat(t)
	long := strings.Repeat("x", 50)

	_, err := tc.view.AddUserMessage(context.Background(), long)
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("x", 40), tc.view.Name())
}

func TestAddUserMessageKeepsExistingName(t *testing.T) {
	tc := newTestChat(t)
	require.NoError(t, tc.view.SetName(context.Background(), "my chat"))

	_, err := tc.view.AddUserMessage(context.Background(), "Hello")
	require.NoError(t, err)

	assert.Equal(t, "my chat", tc.view.Name())
}

func TestAddUserMessageFoldsStagedImages(t *testing.T) {
	tc := newTestChat(t)

	ref, err := tc.view.PreviewImages().AddPreviewImage(testPNG(t, 1))
	require.NoError(t, err)

	wrapper, err := tc.view.AddUserMessage(context.Background(), "look at this")
	require.NoError(t, err)

	assert.Equal(t, []string{ref}, wrapper.ImageURLs())
	assert.Empty(t, tc.view.PreviewImages().PreviewImages())
}

func TestAddUserMessageWithOnlyImagesIsNotANoop(t *testing.T) {
	tc := newTestChat(t)

	_, err := tc.view.PreviewImages().AddPreviewImage(testPNG(t, 1))
	require.NoError(t, err)

	wrapper, err := tc.view.AddUserMessage(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, wrapper)
	assert.Len(t, wrapper.ImageURLs(), 1)
}

func TestAddUserMessageRollsBackWhenChatPutFails(t *testing.T) {
	tc := newTestChat(t)
	tc.chats.FailPuts = errors.New("disk full")

	_, err := tc.view.AddUserMessage(context.Background(), "Hello")
	require.Error(t, err)

	assert.Empty(t, tc.view.Source().MessageIDs)
	assert.Empty(t, tc.view.Messages())
	assert.Equal(t, 0, tc.messages.Len(), "created message record must be rolled back")
}

func TestAddIncomingMessageAppendsPlaceholder(t *testing.T) {
	tc := newTestChat(t)

	incoming, err := tc.view.AddIncomingMessage(context.Background(), "llama3", "ollama")
	require.NoError(t, err)

	assert.True(t, incoming.FromBot())
	assert.Equal(t, 1, incoming.VariationCount())
	assert.Equal(t, "", incoming.Content())
	assert.Equal(t, []chat.NodeID{incoming.ID()}, tc.view.Source().MessageIDs)
	assert.Equal(t, incoming.Source().Timestamp, tc.view.Source().LastMessageTimestamp)
}

func TestDestroyMessageRemovesRecordAndOrder(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	first, err := tc.view.AddUserMessage(ctx, "one")
	require.NoError(t, err)
	second, err := tc.view.AddUserMessage(ctx, "two")
	require.NoError(t, err)

	require.NoError(t, tc.view.DestroyMessage(ctx, first))

	assert.Equal(t, []chat.NodeID{second.ID()}, tc.view.Source().MessageIDs)
	assert.Equal(t, 1, tc.messages.Len())
	assert.Len(t, tc.view.Messages(), 1)
}

func TestDestroyCascadesToMessages(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	_, err := tc.view.AddUserMessage(ctx, "one")
	require.NoError(t, err)
	_, err = tc.view.AddIncomingMessage(ctx, "llama3", "ollama")
	require.NoError(t, err)

	require.NoError(t, tc.view.Destroy(ctx))

	assert.Equal(t, 0, tc.chats.Len())
	assert.Equal(t, 0, tc.messages.Len())
}

func TestFetchMessagesCompactsMissingIDs(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	stale, err := tc.view.AddUserMessage(ctx, "soon gone")
	require.NoError(t, err)
	again, err := tc.view.AddUserMessage(ctx, "second")
	require.NoError(t, err)

	// delete the record behind the view's back: its id stays in the chat's
	// order but no longer resolves
	require.NoError(t, tc.messages.Destroy(ctx, stale.Source()))

	fresh := chat.NewChatViewModel(tc.view.Source(), tc.chats, tc.messages, tc.blobs)
	require.NoError(t, fresh.FetchMessages(ctx))

	messages := fresh.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, again.ID(), messages[0].ID())
}

func TestFetchMessagesPreservesDisplayOrder(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	first, err := tc.view.AddUserMessage(ctx, "one")
	require.NoError(t, err)
	second, err := tc.view.AddIncomingMessage(ctx, "llama3", "ollama")
	require.NoError(t, err)
	third, err := tc.view.AddUserMessage(ctx, "three")
	require.NoError(t, err)

	fresh := chat.NewChatViewModel(tc.view.Source(), tc.chats, tc.messages, tc.blobs)
	require.NoError(t, fresh.FetchMessages(ctx))

	messages := fresh.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, first.ID(), messages[0].ID())
	assert.Equal(t, second.ID(), messages[1].ID())
	assert.Equal(t, third.ID(), messages[2].ID())
}

func TestSetMessageToEditLoadsAttachments(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	ref, err := tc.view.PreviewImages().AddPreviewImage(testPNG(t, 1))
	require.NoError(t, err)
	wrapper, err := tc.view.AddUserMessage(ctx, "with image")
	require.NoError(t, err)

	tc.view.SetMessageToEdit(wrapper)
	assert.True(t, tc.view.IsEditingMessage())
	assert.Equal(t, []string{ref}, tc.view.PreviewImages().PreviewImages())

	tc.view.SetMessageToEdit(nil)
	assert.False(t, tc.view.IsEditingMessage())
	assert.Empty(t, tc.view.PreviewImages().PreviewImages())
}

func TestCommitMessageToEditOverwritesInPlace(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	wrapper, err := tc.view.AddUserMessage(ctx, "original")
	require.NoError(t, err)

	tc.view.SetMessageToEdit(wrapper)
	require.NoError(t, tc.view.CommitMessageToEdit(ctx, "edited"))

	assert.Equal(t, 1, wrapper.VariationCount())
	assert.Equal(t, "edited", wrapper.Content())

	records, err := tc.messages.FindByIDs(ctx, []chat.NodeID{wrapper.ID()})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "edited", records[0].Variations[records[0].SelectedVariationIndex].Content)
}

func TestCommitMessageToEditBranchesWhenNoVariationTargeted(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	wrapper, err := tc.view.AddUserMessage(ctx, "original")
	require.NoError(t, err)

	tc.view.SetBranchTarget(wrapper)
	require.NoError(t, tc.view.CommitMessageToEdit(ctx, "variant"))

	assert.Equal(t, 2, wrapper.VariationCount())
	assert.Equal(t, "variant", wrapper.Content())
}

func TestCommitMessageToEditRestoresRecordWhenPutFails(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	wrapper, err := tc.view.AddUserMessage(ctx, "original")
	require.NoError(t, err)

	tc.view.SetMessageToEdit(wrapper)
	tc.messages.FailPuts = errors.New("disk full")

	require.Error(t, tc.view.CommitMessageToEdit(ctx, "edited"))
	assert.Equal(t, "original", wrapper.Content())
}

func TestEditNavigationSkipsBotMessages(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	first, err := tc.view.AddUserMessage(ctx, "one")
	require.NoError(t, err)
	_, err = tc.view.AddIncomingMessage(ctx, "llama3", "ollama")
	require.NoError(t, err)
	second, err := tc.view.AddUserMessage(ctx, "two")
	require.NoError(t, err)

	tc.view.FindAndEditPreviousMessage()
	require.Same(t, second, tc.view.MessageToEdit())

	tc.view.FindAndEditPreviousMessage()
	require.Same(t, first, tc.view.MessageToEdit())

	tc.view.FindAndEditNextMessage()
	require.Same(t, second, tc.view.MessageToEdit())
}

func TestEditNavigationIsBoundedAtTheEnds(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	first, err := tc.view.AddUserMessage(ctx, "only")
	require.NoError(t, err)

	tc.view.FindAndEditPreviousMessage()
	require.Same(t, first, tc.view.MessageToEdit())

	// no earlier user message: the target stays where it is
	tc.view.FindAndEditPreviousMessage()
	require.Same(t, first, tc.view.MessageToEdit())

	// no later user message either
	tc.view.FindAndEditNextMessage()
	require.Same(t, first, tc.view.MessageToEdit())
}

func TestRegenerateAppendsWhenEditedMessageIsLast(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	user, err := tc.view.AddUserMessage(ctx, "question")
	require.NoError(t, err)
	tc.view.SetMessageToEdit(user)

	generator := &recordingGenerator{}
	require.NoError(t, tc.view.FindAndRegenerateResponse(ctx, generator))

	require.NotNil(t, generator.target)
	assert.True(t, generator.target.FromBot())
	assert.Equal(t, []chat.NodeID{user.ID(), generator.target.ID()}, tc.view.Source().MessageIDs)
	assert.False(t, tc.view.IsEditingMessage())
}

func TestRegenerateInsertsAtPositionWhenReplyWasDeleted(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	user, err := tc.view.AddUserMessage(ctx, "question")
	require.NoError(t, err)
	tail, err := tc.view.AddUserMessage(ctx, "unrelated followup")
	require.NoError(t, err)

	tc.view.SetMessageToEdit(user)

	generator := &recordingGenerator{}
	require.NoError(t, tc.view.FindAndRegenerateResponse(ctx, generator))

	require.NotNil(t, generator.target)
	assert.True(t, generator.target.FromBot())
	assert.Equal(t,
		[]chat.NodeID{user.ID(), generator.target.ID(), tail.ID()},
		tc.view.Source().MessageIDs,
		"placeholder must be inserted at the deleted reply's position, not appended")
}

func TestRegenerateReusesExistingBotReply(t *testing.T) {
	tc := newTestChat(t)
	ctx := context.Background()

	user, err := tc.view.AddUserMessage(ctx, "question")
	require.NoError(t, err)
	reply, err := tc.view.AddIncomingMessage(ctx, "llama3", "ollama")
	require.NoError(t, err)

	tc.view.SetMessageToEdit(user)

	generator := &recordingGenerator{}
	require.NoError(t, tc.view.FindAndRegenerateResponse(ctx, generator))

	require.Same(t, reply, generator.target)
	assert.Len(t, tc.view.Source().MessageIDs, 2)
}

func TestRegenerateWithoutEditTargetFails(t *testing.T) {
	tc := newTestChat(t)

	err := tc.view.FindAndRegenerateResponse(context.Background(), &recordingGenerator{})
	require.ErrorIs(t, err, chat.ErrNoEditTarget)
}
