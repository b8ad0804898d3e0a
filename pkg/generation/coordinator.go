// Package generation issues and manages cancellable streaming generation
// requests. Deltas are appended into a target variation as they arrive, so
// observers see progressive growth; at most one stream is active per
// variation identity.
package generation

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/llm-x/llmx/pkg/blob"
	"github.com/llm-x/llmx/pkg/chat"
	"github.com/llm-x/llmx/pkg/connection"
	"github.com/llm-x/llmx/pkg/events"
)

// RequestContext carries everything a generation request needs. It is
// passed in explicitly; the coordinator performs no ambient lookups.
type RequestContext struct {
	Adapter connection.Adapter
	Model   string

	// SystemPrompt is the persona instruction prepended to transcripts.
	SystemPrompt string

	// Parameters are recorded as the variation's sentWith details and
	// passed through to the adapter.
	Parameters map[string]interface{}

	Blobs blob.Store
}

// Coordinator runs streams against a connection adapter and keeps the
// per-variation cancellation registry.
type Coordinator struct {
	request   RequestContext
	publisher *events.PublisherManager

	mu     sync.Mutex
	active map[chat.VariationKey]*streamHandle
}

// streamHandle identifies one in-flight stream in the registry.
type streamHandle struct {
	cancel context.CancelFunc
}

var _ chat.VariationGenerator = (*Coordinator)(nil)

func NewCoordinator(request RequestContext, publisher *events.PublisherManager) *Coordinator {
	if publisher == nil {
		publisher = events.NewPublisherManager()
	}
	return &Coordinator{
		request:   request,
		publisher: publisher,
		active:    make(map[chat.VariationKey]*streamHandle),
	}
}

func (c *Coordinator) Publisher() *events.PublisherManager {
	return c.publisher
}

// register arms the cancellation registry for key. Starting a new stream
// for a variation that already has one cancels and replaces the prior
// stream: the newest request wins.
func (c *Coordinator) register(ctx context.Context, key chat.VariationKey) (context.Context, *streamHandle) {
	streamCtx, cancel := context.WithCancel(ctx)
	handle := &streamHandle{cancel: cancel}

	c.mu.Lock()
	if prior, ok := c.active[key]; ok {
		log.Debug().
			Str("message_id", key.MessageID.String()).
			Int("variation", key.Index).
			Msg("replacing active stream for variation")
		prior.cancel()
	}
	c.active[key] = handle
	c.mu.Unlock()

	return streamCtx, handle
}

func (c *Coordinator) unregister(key chat.VariationKey, handle *streamHandle) {
	c.mu.Lock()
	// Only remove the entry if it is still ours; a replacement stream may
	// have already taken the slot.
	if current, ok := c.active[key]; ok && current == handle {
		delete(c.active, key)
	}
	c.mu.Unlock()
	handle.cancel()
}

// Cancel stops the active stream for key, if any. Content appended so far
// is retained.
func (c *Coordinator) Cancel(key chat.VariationKey) bool {
	c.mu.Lock()
	handle, ok := c.active[key]
	c.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	return true
}

// CancelAll stops every active stream.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	handles := make([]*streamHandle, 0, len(c.active))
	for _, handle := range c.active {
		handles = append(handles, handle)
	}
	c.mu.Unlock()
	for _, handle := range handles {
		handle.cancel()
	}
}

// IsActive reports whether a stream is currently filling the variation.
func (c *Coordinator) IsActive(key chat.VariationKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[key]
	return ok
}

// GenerateVariation streams a response into message. A fresh placeholder
// (a single empty variation) is filled in place; otherwise a new variation
// is appended and selected.
func (c *Coordinator) GenerateVariation(ctx context.Context, chatView *chat.ChatViewModel, message *chat.MessageViewModel) error {
	index := c.resolveTargetVariation(message)
	return c.streamInto(ctx, chatView, message, index)
}

func (c *Coordinator) resolveTargetVariation(message *chat.MessageViewModel) int {
	if message.VariationCount() == 1 {
		variation := message.SelectedVariation()
		if variation.Content == "" && len(variation.ImageURLs) == 0 && variation.Error == "" {
			return message.SelectedIndex()
		}
	}
	key := message.AppendVariation(&chat.Variation{})
	return key.Index
}

// GenerateVariations launches n independent generation requests against the
// same message, each producing its own variation. Completions may arrive in
// any order; appends are linearized by the message wrapper, so no
// completion overwrites another. Every stream runs on the caller's context:
// a failing stream is marked on its own variation and does not cancel its
// siblings.
func (c *Coordinator) GenerateVariations(ctx context.Context, chatView *chat.ChatViewModel, message *chat.MessageViewModel, n int) error {
	var group errgroup.Group

	for i := 0; i < n; i++ {
		key := message.AppendVariation(&chat.Variation{})
		group.Go(func() error {
			return c.streamInto(ctx, chatView, message, key.Index)
		})
	}

	return group.Wait()
}

func (c *Coordinator) streamInto(ctx context.Context, chatView *chat.ChatViewModel, message *chat.MessageViewModel, index int) error {
	key := chat.VariationKey{MessageID: message.ID(), Index: index}
	streamCtx, handle := c.register(ctx, key)
	defer c.unregister(key, handle)

	metadata := events.EventMetadata{
		MessageID:      key.MessageID,
		VariationIndex: key.Index,
		Model:          c.request.Model,
	}

	transcript := BuildTranscript(chatView.Messages(), message, c.request.SystemPrompt, c.request.Blobs)

	if err := message.SetSentWith(index, c.request.Parameters); err != nil {
		return err
	}

	c.publisher.PublishBlind(events.NewStartEvent(metadata))

	completion := ""
	onDelta := func(delta string) error {
		if err := message.AppendToVariation(index, delta); err != nil {
			return err
		}
		completion += delta
		c.publisher.PublishBlind(events.NewPartialEvent(metadata, delta, completion))
		return nil
	}

	returnedWith, err := c.request.Adapter.GenerateChat(streamCtx, connection.ChatRequest{
		Model:      c.request.Model,
		Transcript: transcript,
		Parameters: c.request.Parameters,
	}, onDelta)

	// The stream context is cancelled on interruption; persistence still
	// has to happen, so it runs on an uncancelled context.
	persistCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		if len(returnedWith) > 0 {
			if err := message.SetReturnedWith(index, returnedWith); err != nil {
				return err
			}
		}
		c.publisher.PublishBlind(events.NewFinalEvent(metadata, completion))

	case errors.Is(err, context.Canceled):
		// cancelled: content appended so far is kept, no error is raised
		c.publisher.PublishBlind(events.NewInterruptEvent(metadata, completion))
		err = nil

	default:
		// failure is attached to this variation, partial content kept
		if markErr := message.SetVariationError(index, err.Error()); markErr != nil {
			return markErr
		}
		c.publisher.PublishBlind(events.NewErrorEvent(metadata, err, completion))
		err = errors.Wrap(err, "generation stream failed")
	}

	if persistErr := chatView.PersistMessage(persistCtx, message); persistErr != nil {
		log.Warn().Err(persistErr).
			Str("message_id", key.MessageID.String()).
			Msg("could not persist streamed message")
		if err == nil {
			err = errors.Wrap(persistErr, "could not persist streamed message")
		}
	}

	return err
}
