package chat

import (
	"context"
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/llm-x/llmx/pkg/blob"
	"github.com/llm-x/llmx/pkg/entitycache"
)

const maxDerivedNameLength = 40

// VariationGenerator produces a new variation for a message by streaming a
// generation request. It is passed explicitly into the calls that need it
// instead of being looked up ambiently.
type VariationGenerator interface {
	GenerateVariation(ctx context.Context, chatView *ChatViewModel, message *MessageViewModel) error
}

// ChatViewModel orchestrates one chat: the ordered message-id list, the
// cache of message wrappers, image staging, edit targeting, and the
// regeneration flow.
type ChatViewModel struct {
	source *ChatModel

	chats    ChatTable
	messages MessageTable

	cache         *entitycache.Cache[NodeID, *MessageModel, *MessageViewModel]
	previewImages *PreviewImageHandler
	editedMessage *EditedMessageHandler
}

func NewChatViewModel(source *ChatModel, chats ChatTable, messages MessageTable, blobs blob.Store) *ChatViewModel {
	return &ChatViewModel{
		source:   source,
		chats:    chats,
		messages: messages,
		cache: entitycache.New[NodeID, *MessageModel, *MessageViewModel](
			NewMessageViewModel,
			func(w *MessageViewModel, r *MessageModel) { w.setSource(r) },
		),
		previewImages: NewPreviewImageHandler(blobs),
		editedMessage: NewEditedMessageHandler(),
	}
}

func (c *ChatViewModel) ID() NodeID {
	return c.source.ID
}

func (c *ChatViewModel) Name() string {
	return c.source.Name
}

func (c *ChatViewModel) Source() *ChatModel {
	return c.source
}

func (c *ChatViewModel) PreviewImages() *PreviewImageHandler {
	return c.previewImages
}

func (c *ChatViewModel) MessageToEdit() *MessageViewModel {
	return c.editedMessage.MessageToEdit()
}

func (c *ChatViewModel) IsEditingMessage() bool {
	return c.editedMessage.IsEditing()
}

// FetchMessages bulk-loads every message referenced by the chat's id list
// into the cache. Ids that no longer resolve are skipped; Messages compacts
// them out.
func (c *ChatViewModel) FetchMessages(ctx context.Context) error {
	loaded, err := c.messages.FindByIDs(ctx, c.source.MessageIDs)
	if err != nil {
		return errors.Wrap(err, "could not fetch chat messages")
	}
	for _, message := range loaded {
		c.cache.Put(message.ID, message)
	}
	return nil
}

// Messages returns the message wrappers in display order, omitting any id
// not resolvable in the cache.
func (c *ChatViewModel) Messages() []*MessageViewModel {
	result := make([]*MessageViewModel, 0, len(c.source.MessageIDs))
	for _, id := range c.source.MessageIDs {
		if wrapper, ok := c.cache.Get(id); ok {
			result = append(result, wrapper)
		}
	}
	return result
}

// update persists a patched copy of the chat record and only swaps the
// in-memory copy once the put succeeded.
func (c *ChatViewModel) update(ctx context.Context, patch func(*ChatModel)) error {
	next := clone.Clone(c.source).(*ChatModel)
	patch(next)
	if err := c.chats.Put(ctx, next); err != nil {
		return errors.Wrap(err, "could not persist chat")
	}
	c.source = next
	return nil
}

func (c *ChatViewModel) SetName(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	return c.update(ctx, func(chat *ChatModel) { chat.Name = name })
}

// AddUserMessage creates a user-authored message from the composed content
// and any staged images, appends it to the chat, and derives the chat name
// from the first message when none is set. Empty content with no staged
// images is a silent no-op.
func (c *ChatViewModel) AddUserMessage(ctx context.Context, content string) (*MessageViewModel, error) {
	if content == "" && !c.previewImages.HasImages() {
		return nil, nil
	}

	message, err := c.messages.Create(ctx, &MessageModel{
		FromBot:    false,
		Variations: []*Variation{{Content: content, CreatedAt: time.Now()}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create user message")
	}

	if imageURLs := c.previewImages.CommitPreviewImages(message.ID); len(imageURLs) > 0 {
		message.Variations[message.SelectedVariationIndex].ImageURLs = imageURLs
		if err := c.messages.Put(ctx, message); err != nil {
			c.rollbackCreatedMessage(ctx, message)
			return nil, errors.Wrap(err, "could not attach images to user message")
		}
	}

	wrapper := c.cache.Put(message.ID, message)

	name := c.source.Name
	if name == "" {
		name = deriveChatName(content)
	}
	err = c.update(ctx, func(chat *ChatModel) {
		chat.Name = name
		chat.MessageIDs = append(chat.MessageIDs, message.ID)
		chat.LastMessageTimestamp = message.Timestamp
	})
	if err != nil {
		c.rollbackCreatedMessage(ctx, message)
		return nil, err
	}

	return wrapper, nil
}

// rollbackCreatedMessage compensates for a failed append: the created
// record is destroyed again so the store does not diverge from the
// in-memory view.
func (c *ChatViewModel) rollbackCreatedMessage(ctx context.Context, message *MessageModel) {
	c.cache.Remove(message.ID)
	if err := c.messages.Destroy(ctx, message); err != nil {
		log.Warn().Err(err).
			Str("message_id", message.ID.String()).
			Msg("could not roll back created message")
	}
}

// CreateIncomingMessage creates an empty bot-authored placeholder record,
// ready to be filled by a generation stream. It is not yet referenced by
// the chat's id list.
func (c *ChatViewModel) CreateIncomingMessage(ctx context.Context, botName string, modelType string) (*MessageModel, error) {
	message, err := c.messages.Create(ctx, &MessageModel{
		FromBot:   true,
		BotName:   botName,
		ModelType: modelType,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create incoming message")
	}
	return message, nil
}

// AddIncomingMessage creates a bot placeholder and appends it to the chat.
func (c *ChatViewModel) AddIncomingMessage(ctx context.Context, botName string, modelType string) (*MessageViewModel, error) {
	message, err := c.CreateIncomingMessage(ctx, botName, modelType)
	if err != nil {
		return nil, err
	}
	return c.pushIncomingMessage(ctx, message)
}

func (c *ChatViewModel) pushIncomingMessage(ctx context.Context, message *MessageModel) (*MessageViewModel, error) {
	wrapper := c.cache.Put(message.ID, message)

	err := c.update(ctx, func(chat *ChatModel) {
		chat.MessageIDs = append(chat.MessageIDs, message.ID)
		chat.LastMessageTimestamp = message.Timestamp
	})
	if err != nil {
		c.rollbackCreatedMessage(ctx, message)
		return nil, err
	}
	return wrapper, nil
}

// DestroyMessage deletes the persisted record, evicts it from the cache,
// and removes its id from the chat's order.
func (c *ChatViewModel) DestroyMessage(ctx context.Context, message *MessageViewModel) error {
	if err := c.messages.Destroy(ctx, message.Source()); err != nil {
		return errors.Wrap(err, "could not destroy message")
	}

	c.cache.Remove(message.ID())

	return c.update(ctx, func(chat *ChatModel) {
		chat.MessageIDs = withoutID(chat.MessageIDs, message.ID())
	})
}

// Destroy cancels staged images, deletes the chat record, and cascades the
// delete to every referenced message.
func (c *ChatViewModel) Destroy(ctx context.Context) error {
	if err := c.previewImages.CancelPreviewImages(); err != nil {
		log.Warn().Err(err).Msg("could not release staged images while destroying chat")
	}
	if err := c.chats.Destroy(ctx, c.source); err != nil {
		return errors.Wrap(err, "could not destroy chat")
	}
	if err := c.messages.DestroyMany(ctx, c.source.MessageIDs); err != nil {
		return errors.Wrap(err, "could not destroy chat messages")
	}
	for _, id := range c.source.MessageIDs {
		c.cache.Remove(id)
	}
	return nil
}

// Dispose releases the session-scoped resources of this view without
// touching persisted state.
func (c *ChatViewModel) Dispose() error {
	for _, id := range c.source.MessageIDs {
		c.cache.Remove(id)
	}
	return c.previewImages.CancelPreviewImages()
}

// SetMessageToEdit targets message for editing and loads its existing
// attachments into the image staging. A nil message clears both.
func (c *ChatViewModel) SetMessageToEdit(message *MessageViewModel) {
	c.editedMessage.SetTarget(message)
	c.previewImages.SetMessage(message)
}

// SetBranchTarget targets message so that the next commit appends a new
// variation instead of editing the selected one in place.
func (c *ChatViewModel) SetBranchTarget(message *MessageViewModel) {
	c.editedMessage.SetBranchTarget(message)
	c.previewImages.SetMessage(message)
}

// CommitMessageToEdit commits staged preview images first, so images added
// during the edit are persisted, then resolves the edit itself.
func (c *ChatViewModel) CommitMessageToEdit(ctx context.Context, content string) error {
	target := c.editedMessage.MessageToEdit()
	if target == nil {
		return ErrNoEditTarget
	}

	before := clone.Clone(target.Source()).(*MessageModel)

	imageURLs := c.previewImages.CommitPreviewImages(target.ID())

	message, err := c.editedMessage.Commit(content, imageURLs)
	if err != nil {
		return err
	}

	if err := c.messages.Put(ctx, message.Source()); err != nil {
		// restore the pre-commit record so memory stays consistent with
		// what was actually persisted
		message.setSource(before)
		return errors.Wrap(err, "could not persist edited message")
	}
	return nil
}

// FindAndEditPreviousMessage moves the edit target backward to the closest
// earlier user-authored message. Bot messages are skipped. When no such
// message exists before the current target, the target is left unchanged.
func (c *ChatViewModel) FindAndEditPreviousMessage() {
	messages := c.Messages()
	currentIndex := len(messages)
	if target := c.editedMessage.MessageToEdit(); target != nil {
		currentIndex = indexOfMessage(messages, target)
	}

	for i := currentIndex - 1; i >= 0; i-- {
		if !messages[i].FromBot() {
			c.SetMessageToEdit(messages[i])
			return
		}
	}
}

// FindAndEditNextMessage is the forward counterpart of
// FindAndEditPreviousMessage.
func (c *ChatViewModel) FindAndEditNextMessage() {
	messages := c.Messages()
	currentIndex := -1
	if target := c.editedMessage.MessageToEdit(); target != nil {
		currentIndex = indexOfMessage(messages, target)
	}

	for i := currentIndex + 1; i < len(messages); i++ {
		if !messages[i].FromBot() {
			c.SetMessageToEdit(messages[i])
			return
		}
	}
}

// FindAndRegenerateResponse resolves the bot message that answers the
// currently edited user message and streams a fresh variation into it.
//
// If no message follows the edited one, a new bot placeholder is appended.
// If the following message exists but is not bot-authored (the original
// reply was deleted), a placeholder is inserted at exactly that position.
// Otherwise the existing bot reply is reused as the target.
func (c *ChatViewModel) FindAndRegenerateResponse(ctx context.Context, generator VariationGenerator) error {
	edited := c.editedMessage.MessageToEdit()
	if edited == nil {
		return ErrNoEditTarget
	}

	messages := c.Messages()
	editedIndex := indexOfMessage(messages, edited)
	if editedIndex < 0 {
		return errors.New("edited message is not part of this chat")
	}

	var target *MessageViewModel

	switch {
	case editedIndex+1 >= len(messages):
		message, err := c.CreateIncomingMessage(ctx, edited.Source().BotName, edited.Source().ModelType)
		if err != nil {
			return err
		}
		target, err = c.pushIncomingMessage(ctx, message)
		if err != nil {
			return err
		}

	case !messages[editedIndex+1].FromBot():
		message, err := c.CreateIncomingMessage(ctx, "", "")
		if err != nil {
			return err
		}
		target = c.cache.Put(message.ID, message)

		err = c.update(ctx, func(chat *ChatModel) {
			chat.MessageIDs = insertIDAfter(chat.MessageIDs, edited.ID(), message.ID)
		})
		if err != nil {
			c.rollbackCreatedMessage(ctx, message)
			return err
		}

	default:
		target = messages[editedIndex+1]
	}

	c.SetMessageToEdit(nil)

	return generator.GenerateVariation(ctx, c, target)
}

// PersistMessage writes a message wrapper's current record back to the
// store. The generation coordinator uses this after streaming completes.
func (c *ChatViewModel) PersistMessage(ctx context.Context, message *MessageViewModel) error {
	return c.messages.Put(ctx, message.Source())
}

func deriveChatName(content string) string {
	runes := []rune(content)
	if len(runes) > maxDerivedNameLength {
		runes = runes[:maxDerivedNameLength]
	}
	return string(runes)
}

func indexOfMessage(messages []*MessageViewModel, target *MessageViewModel) int {
	for i, message := range messages {
		if message == target {
			return i
		}
	}
	return -1
}

func withoutID(ids []NodeID, id NodeID) []NodeID {
	result := make([]NodeID, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			result = append(result, candidate)
		}
	}
	return result
}

func insertIDAfter(ids []NodeID, after NodeID, id NodeID) []NodeID {
	result := make([]NodeID, 0, len(ids)+1)
	inserted := false
	for _, candidate := range ids {
		result = append(result, candidate)
		if candidate == after {
			result = append(result, id)
			inserted = true
		}
	}
	if !inserted {
		result = append(result, id)
	}
	return result
}
