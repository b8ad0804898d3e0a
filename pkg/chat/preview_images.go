package chat

import (
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/llm-x/llmx/pkg/blob"
)

// PreviewImage is a staged attachment held while composing or editing a
// message. It is never persisted directly; on commit its reference is folded
// into a variation's image urls.
type PreviewImage struct {
	Ref string

	// adopted entries were loaded from an already-persisted message when
	// re-editing; cancelling the staging must not release their blobs.
	adopted bool
}

// PreviewImageHandler owns the transient list of staged attachments for one
// in-progress compose or edit operation. Switching context must flush it
// via Commit or Cancel first; the handler does not auto-flush.
type PreviewImageHandler struct {
	store  blob.Store
	staged []PreviewImage
}

func NewPreviewImageHandler(store blob.Store) *PreviewImageHandler {
	return &PreviewImageHandler{store: store}
}

// PreviewImages returns the staged references in insertion order.
func (h *PreviewImageHandler) PreviewImages() []string {
	refs := make([]string, 0, len(h.staged))
	for _, entry := range h.staged {
		refs = append(refs, entry.Ref)
	}
	return refs
}

func (h *PreviewImageHandler) HasImages() bool {
	return len(h.staged) > 0
}

// AddPreviewImage decodes and stores one image, then stages its reference.
// Staging the same content twice is a no-op.
func (h *PreviewImageHandler) AddPreviewImage(data []byte) (string, error) {
	ref, err := h.store.Put(data)
	if err != nil {
		return "", err
	}
	h.stageRef(ref, false)
	return ref, nil
}

// AddPreviewImages stages a batch. A decode failure drops only the failing
// entry; the rest proceed. The combined error reports every failure.
func (h *PreviewImageHandler) AddPreviewImages(batch [][]byte) ([]string, error) {
	var refs []string
	var result *multierror.Error

	for i, data := range batch {
		ref, err := h.AddPreviewImage(data)
		if err != nil {
			log.Warn().Err(err).Int("entry", i).Msg("dropping staged image that failed to decode")
			result = multierror.Append(result, err)
			continue
		}
		refs = append(refs, ref)
	}

	return refs, result.ErrorOrNil()
}

func (h *PreviewImageHandler) stageRef(ref string, adopted bool) {
	for _, entry := range h.staged {
		if entry.Ref == ref {
			return
		}
	}
	h.staged = append(h.staged, PreviewImage{Ref: ref, adopted: adopted})
}

// RemovePreviewImage drops a staged entry. The backing blob is not released;
// the same content may be referenced by committed messages.
func (h *PreviewImageHandler) RemovePreviewImage(ref string) {
	h.RemovePreviewImages([]string{ref})
}

func (h *PreviewImageHandler) RemovePreviewImages(refs []string) {
	drop := make(map[string]bool, len(refs))
	for _, ref := range refs {
		drop[ref] = true
	}

	kept := h.staged[:0]
	for _, entry := range h.staged {
		if !drop[entry.Ref] {
			kept = append(kept, entry)
		}
	}
	h.staged = kept
}

// SetMessage replaces the staged list with the target message's existing
// attachment references, so re-editing a message repopulates its staging
// without re-decoding or duplicating storage. A nil message clears staging.
func (h *PreviewImageHandler) SetMessage(message *MessageViewModel) {
	h.staged = nil
	if message == nil {
		return
	}
	for _, ref := range message.ImageURLs() {
		h.stageRef(ref, true)
	}
}

// SetVariation is SetMessage for a specific variation target.
func (h *PreviewImageHandler) SetVariation(message *MessageViewModel, index int) error {
	variation, err := message.Variation(index)
	if err != nil {
		return err
	}
	h.staged = nil
	for _, ref := range variation.ImageURLs {
		h.stageRef(ref, true)
	}
	return nil
}

// CommitPreviewImages finalizes the staged list into the permanent url list
// for ownerID and clears staging. Returns an empty list if nothing was
// staged.
func (h *PreviewImageHandler) CommitPreviewImages(ownerID NodeID) []string {
	if len(h.staged) == 0 {
		return nil
	}

	refs := h.PreviewImages()
	log.Debug().
		Str("owner_id", ownerID.String()).
		Int("count", len(refs)).
		Msg("committed staged images")

	h.staged = nil
	return refs
}

// CancelPreviewImages discards staged entries and releases the blobs this
// handler stored itself. References adopted from an existing message are
// left alone.
func (h *PreviewImageHandler) CancelPreviewImages() error {
	var result *multierror.Error
	for _, entry := range h.staged {
		if entry.adopted {
			continue
		}
		if err := h.store.Release(entry.Ref); err != nil {
			result = multierror.Append(result, err)
		}
	}
	h.staged = nil
	return result.ErrorOrNil()
}
