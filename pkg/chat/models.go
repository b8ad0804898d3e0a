package chat

import (
	"time"
)

// ExtraDetails records what was sent to a connection for a generation
// request, and what the adapter reported back once the stream finished.
type ExtraDetails struct {
	SentWith     map[string]interface{} `json:"sentWith,omitempty"`
	ReturnedWith map[string]interface{} `json:"returnedWith,omitempty"`
}

// Variation is one concrete content branch of a message. A message always
// has at least one, and exactly one is selected.
type Variation struct {
	Content      string       `json:"content"`
	ImageURLs    []string     `json:"imageUrls,omitempty"`
	ExtraDetails ExtraDetails `json:"extraDetails,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`

	// Error marks the variation's stream as having terminated abnormally.
	// Partial content accumulated before the failure is kept.
	Error string `json:"error,omitempty"`
}

// MessageModel is the persisted form of a single message.
type MessageModel struct {
	ID                     NodeID       `json:"id"`
	FromBot                bool         `json:"fromBot"`
	BotName                string       `json:"botName,omitempty"`
	ModelType              string       `json:"modelType,omitempty"`
	Timestamp              time.Time    `json:"timestamp"`
	Variations             []*Variation `json:"variations"`
	SelectedVariationIndex int          `json:"selectedVariationIndex"`
}

func (m *MessageModel) RecordID() NodeID {
	return m.ID
}

// InitRecord fills in the identity fields a freshly created record needs.
// Every message starts out with a single variation so that
// SelectedVariationIndex always resolves.
func (m *MessageModel) InitRecord(id NodeID, now time.Time) {
	m.ID = id
	m.Timestamp = now
	if len(m.Variations) == 0 {
		m.Variations = []*Variation{{CreatedAt: now}}
	}
}

// ChatModel is the persisted form of a chat: a name and the display-ordered
// list of message ids.
type ChatModel struct {
	ID                   NodeID    `json:"id"`
	Name                 string    `json:"name,omitempty"`
	MessageIDs           []NodeID  `json:"messageIds"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
}

func (c *ChatModel) RecordID() NodeID {
	return c.ID
}

func (c *ChatModel) InitRecord(id NodeID, now time.Time) {
	c.ID = id
	c.LastMessageTimestamp = now
}
