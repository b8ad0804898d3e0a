package chat

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNoEditTarget = errors.New("no message is being edited")

// EditedMessageHandler tracks which message (and, optionally, which specific
// variation of it) is currently being edited. Only one target exists at a
// time; setting a new target replaces the previous one.
type EditedMessageHandler struct {
	messageToEdit *MessageViewModel

	// variationToEdit is the index of the targeted variation, or -1 when
	// the commit should branch into a new variation instead of editing an
	// existing one.
	variationToEdit int
}

func NewEditedMessageHandler() *EditedMessageHandler {
	return &EditedMessageHandler{variationToEdit: -1}
}

func (h *EditedMessageHandler) IsEditing() bool {
	return h.messageToEdit != nil
}

func (h *EditedMessageHandler) MessageToEdit() *MessageViewModel {
	return h.messageToEdit
}

// VariationToEdit returns the targeted variation index and whether a
// specific variation (rather than "branch on commit") is targeted.
func (h *EditedMessageHandler) VariationToEdit() (int, bool) {
	if h.variationToEdit < 0 {
		return 0, false
	}
	return h.variationToEdit, true
}

// ClearTarget transitions back to idle from any state.
func (h *EditedMessageHandler) ClearTarget() {
	h.messageToEdit = nil
	h.variationToEdit = -1
}

// SetTarget targets message's currently selected variation for in-place
// editing. A nil message clears the target.
func (h *EditedMessageHandler) SetTarget(message *MessageViewModel) {
	if message == nil {
		h.ClearTarget()
		return
	}
	h.messageToEdit = message
	h.variationToEdit = message.SelectedIndex()
}

// SetBranchTarget targets message for branching: commit will append a new
// variation instead of overwriting an existing one.
func (h *EditedMessageHandler) SetBranchTarget(message *MessageViewModel) {
	if message == nil {
		h.ClearTarget()
		return
	}
	h.messageToEdit = message
	h.variationToEdit = -1
}

// Commit resolves the edit: overwrite the targeted variation in place, or
// append a new variation and select it when no specific variation was
// targeted. The handler returns to idle, handing back the touched message
// so the caller can persist it.
func (h *EditedMessageHandler) Commit(content string, imageURLs []string) (*MessageViewModel, error) {
	if h.messageToEdit == nil {
		return nil, ErrNoEditTarget
	}

	message := h.messageToEdit

	if h.variationToEdit >= 0 {
		if err := message.OverwriteVariation(h.variationToEdit, content, imageURLs); err != nil {
			return nil, err
		}
		log.Debug().
			Str("message_id", message.ID().String()).
			Int("variation", h.variationToEdit).
			Msg("committed in-place edit")
	} else {
		key := message.AppendVariation(&Variation{
			Content:   content,
			ImageURLs: imageURLs,
		})
		log.Debug().
			Str("message_id", message.ID().String()).
			Int("variation", key.Index).
			Msg("committed edit as new variation")
	}

	h.ClearTarget()
	return message, nil
}
