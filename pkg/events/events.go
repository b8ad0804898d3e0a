// Package events defines the stream events the generation coordinator
// publishes while it fills a variation, and the publisher plumbing that
// fans them out to subscribers (UI layers, loggers).
package events

import (
	"github.com/rs/zerolog"

	"github.com/llm-x/llmx/pkg/chat"
)

type EventType string

const (
	EventTypeStart     EventType = "start"
	EventTypePartial   EventType = "partial"
	EventTypeFinal     EventType = "final"
	EventTypeError     EventType = "error"
	EventTypeInterrupt EventType = "interrupt"
)

// EventMetadata ties an event to the variation it concerns.
type EventMetadata struct {
	MessageID      chat.NodeID `json:"messageId"`
	VariationIndex int         `json:"variationIndex"`
	Model          string      `json:"model,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.MessageID.String())
	e.Int("variation_index", em.VariationIndex)
	if em.Model != "" {
		e.Str("model", em.Model)
	}
}

// Event is one observation of a generation stream.
type Event struct {
	Type     EventType     `json:"type"`
	Metadata EventMetadata `json:"meta"`

	// Delta is the fragment appended by a partial event; Completion is the
	// content accumulated so far.
	Delta      string `json:"delta,omitempty"`
	Completion string `json:"completion,omitempty"`

	Error string `json:"error,omitempty"`
}

func NewStartEvent(metadata EventMetadata) *Event {
	return &Event{Type: EventTypeStart, Metadata: metadata}
}

func NewPartialEvent(metadata EventMetadata, delta string, completion string) *Event {
	return &Event{Type: EventTypePartial, Metadata: metadata, Delta: delta, Completion: completion}
}

func NewFinalEvent(metadata EventMetadata, completion string) *Event {
	return &Event{Type: EventTypeFinal, Metadata: metadata, Completion: completion}
}

func NewErrorEvent(metadata EventMetadata, err error, completion string) *Event {
	return &Event{Type: EventTypeError, Metadata: metadata, Error: err.Error(), Completion: completion}
}

func NewInterruptEvent(metadata EventMetadata, completion string) *Event {
	return &Event{Type: EventTypeInterrupt, Metadata: metadata, Completion: completion}
}
