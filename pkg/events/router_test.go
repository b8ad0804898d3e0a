package events_test

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-x/llmx/pkg/chat"
	"github.com/llm-x/llmx/pkg/events"
)

// collectingHandler records the order in which events arrive.
type collectingHandler struct {
	mu    sync.Mutex
	types []events.EventType
	done  chan struct{}
	want  int
}

func (h *collectingHandler) record(e *events.Event) error {
	h.mu.Lock()
	h.types = append(h.types, e.Type)
	if len(h.types) == h.want {
		close(h.done)
	}
	h.mu.Unlock()
	return nil
}

func (h *collectingHandler) HandleStart(ctx context.Context, e *events.Event) error {
	return h.record(e)
}

func (h *collectingHandler) HandlePartial(ctx context.Context, e *events.Event) error {
	return h.record(e)
}

func (h *collectingHandler) HandleFinal(ctx context.Context, e *events.Event) error {
	return h.record(e)
}

func (h *collectingHandler) HandleError(ctx context.Context, e *events.Event) error {
	return h.record(e)
}

func (h *collectingHandler) HandleInterrupt(ctx context.Context, e *events.Event) error {
	return h.record(e)
}

func TestRouterDeliversPublishedEventsInOrder(t *testing.T) {
	router, err := events.NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	handler := &collectingHandler{done: make(chan struct{}), want: 3}
	router.AddEventHandler("collect", "chat", handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	manager := events.NewPublisherManager()
	manager.SubscribePublisher("chat", router.Publisher)

	metadata := events.EventMetadata{MessageID: chat.NewNodeID()}
	manager.PublishBlind(events.NewStartEvent(metadata))
	manager.PublishBlind(events.NewPartialEvent(metadata, "Hi", "Hi"))
	manager.PublishBlind(events.NewFinalEvent(metadata, "Hi"))

	select {
	case <-handler.done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not receive all events")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []events.EventType{
		events.EventTypeStart,
		events.EventTypePartial,
		events.EventTypeFinal,
	}, handler.types)
}

func TestPublisherManagerStampsSequenceNumbers(t *testing.T) {
	manager := events.NewPublisherManager()

	var mu sync.Mutex
	var received []*message.Message
	manager.SubscribePublisher("chat", publisherFunc(func(topic string, msgs ...*message.Message) error {
		mu.Lock()
		received = append(received, msgs...)
		mu.Unlock()
		return nil
	}))

	metadata := events.EventMetadata{MessageID: chat.NewNodeID()}
	require.NoError(t, manager.Publish(events.NewStartEvent(metadata)))
	require.NoError(t, manager.Publish(events.NewFinalEvent(metadata, "done")))

	require.Len(t, received, 2)
	for i, msg := range received {
		sequence, err := strconv.Atoi(msg.Metadata.Get("sequence_number"))
		require.NoError(t, err)
		assert.Equal(t, i, sequence)
	}
}

func TestParseEventRejectsGarbage(t *testing.T) {
	_, err := events.ParseEvent([]byte("not json"))
	require.Error(t, err)

	_, err = events.ParseEvent([]byte(`{"delta":"typeless"}`))
	require.Error(t, err)

	payload, err := json.Marshal(events.NewPartialEvent(events.EventMetadata{}, "a", "a"))
	require.NoError(t, err)
	event, err := events.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, events.EventTypePartial, event.Type)
}

// publisherFunc adapts a function to message.Publisher.
type publisherFunc func(topic string, msgs ...*message.Message) error

func (f publisherFunc) Publish(topic string, msgs ...*message.Message) error {
	return f(topic, msgs...)
}

func (f publisherFunc) Close() error { return nil }
