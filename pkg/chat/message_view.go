package chat

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrVariationOutOfRange = errors.New("variation index out of range")

// VariationKey identifies one variation of one message. Variations are only
// ever appended or overwritten in place, never removed, so the index is a
// stable identity for the lifetime of the message.
type VariationKey struct {
	MessageID NodeID
	Index     int
}

// MessageViewModel wraps one persisted message record. All mutations go
// through the owning ChatViewModel's persistence calls; the wrapper itself
// only changes its local record.
//
// The variation list can be appended to concurrently (variation fan-out),
// so every access to the underlying record is linearized by the mutex.
type MessageViewModel struct {
	mu     sync.Mutex
	source *MessageModel
}

func NewMessageViewModel(source *MessageModel) *MessageViewModel {
	return &MessageViewModel{source: source}
}

func (m *MessageViewModel) ID() NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source.ID
}

func (m *MessageViewModel) FromBot() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source.FromBot
}

// Source returns the underlying record. The caller must treat it as owned
// by the view model; ChatViewModel snapshots it before persisting.
func (m *MessageViewModel) Source() *MessageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// setSource swaps the underlying record in place, keeping wrapper identity.
// Used by the entity cache when the same id is put again.
func (m *MessageViewModel) setSource(source *MessageModel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
}

func (m *MessageViewModel) SelectedIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source.SelectedVariationIndex
}

// SelectedVariation returns the currently selected variation. The invariant
// that SelectedVariationIndex resolves is maintained by every mutation.
func (m *MessageViewModel) SelectedVariation() *Variation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source.Variations[m.source.SelectedVariationIndex]
}

// Content is the selected variation's content, which is what the message
// shows externally.
func (m *MessageViewModel) Content() string {
	return m.SelectedVariation().Content
}

func (m *MessageViewModel) ImageURLs() []string {
	return m.SelectedVariation().ImageURLs
}

func (m *MessageViewModel) VariationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.source.Variations)
}

func (m *MessageViewModel) Variation(index int) (*Variation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.source.Variations) {
		return nil, ErrVariationOutOfRange
	}
	return m.source.Variations[index], nil
}

// AppendVariation appends a new variation and selects it, atomically from
// the caller's point of view. It returns the key of the new variation.
func (m *MessageViewModel) AppendVariation(variation *Variation) VariationKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	if variation.CreatedAt.IsZero() {
		variation.CreatedAt = time.Now()
	}
	m.source.Variations = append(m.source.Variations, variation)
	index := len(m.source.Variations) - 1
	m.source.SelectedVariationIndex = index
	return VariationKey{MessageID: m.source.ID, Index: index}
}

func (m *MessageViewModel) SelectVariation(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.source.Variations) {
		return ErrVariationOutOfRange
	}
	m.source.SelectedVariationIndex = index
	return nil
}

// OverwriteVariation replaces the content and image urls of an existing
// variation in place, without changing the variation count.
func (m *MessageViewModel) OverwriteVariation(index int, content string, imageURLs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.source.Variations) {
		return ErrVariationOutOfRange
	}
	variation := m.source.Variations[index]
	variation.Content = content
	variation.ImageURLs = imageURLs
	return nil
}

// AppendToVariation appends a streamed fragment to a variation's content.
func (m *MessageViewModel) AppendToVariation(index int, delta string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.source.Variations) {
		return ErrVariationOutOfRange
	}
	m.source.Variations[index].Content += delta
	return nil
}

func (m *MessageViewModel) SetSentWith(index int, sentWith map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.source.Variations) {
		return ErrVariationOutOfRange
	}
	m.source.Variations[index].ExtraDetails.SentWith = sentWith
	return nil
}

func (m *MessageViewModel) SetReturnedWith(index int, returnedWith map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.source.Variations) {
		return ErrVariationOutOfRange
	}
	m.source.Variations[index].ExtraDetails.ReturnedWith = returnedWith
	return nil
}

// SetVariationError marks the variation's stream as terminally failed.
// Already-appended content is kept.
func (m *MessageViewModel) SetVariationError(index int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.source.Variations) {
		return ErrVariationOutOfRange
	}
	m.source.Variations[index].Error = message
	return nil
}
