package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler receives the lifecycle events of a generation stream, one method
// per event type.
type Handler interface {
	HandleStart(ctx context.Context, e *Event) error
	HandlePartial(ctx context.Context, e *Event) error
	HandleFinal(ctx context.Context, e *Event) error
	HandleError(ctx context.Context, e *Event) error
	HandleInterrupt(ctx context.Context, e *Event) error
}

// ParseEvent decodes a published event payload.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errors.Wrap(err, "could not decode event payload")
	}
	if event.Type == "" {
		return nil, errors.New("event payload has no type")
	}
	return &event, nil
}

// EventRouter connects the publisher side of a stream to subscribing
// handlers through an in-process gochannel pubsub.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type EventRouterOption func(*EventRouter)

func WithRouterLogger(logger zerolog.Logger) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = newWatermillLogger(logger)
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close pubsub")
		// not returning just yet
	}
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close router")
	}
	return nil
}

// AddHandler registers a raw message handler on topic.
func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddEventHandler registers a typed handler on topic: payloads are parsed
// and dispatched to the method matching the event type. A payload that does
// not parse is logged and skipped, not fatal to the handler.
func (e *EventRouter) AddEventHandler(name string, topic string, handler Handler) {
	e.AddHandler(name, topic, func(msg *message.Message) error {
		event, err := ParseEvent(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("could not parse stream event")
			return nil
		}

		ctx := msg.Context()
		switch event.Type {
		case EventTypeStart:
			return handler.HandleStart(ctx, event)
		case EventTypePartial:
			return handler.HandlePartial(ctx, event)
		case EventTypeFinal:
			return handler.HandleFinal(ctx, event)
		case EventTypeError:
			return handler.HandleError(ctx, event)
		case EventTypeInterrupt:
			return handler.HandleInterrupt(ctx, event)
		default:
			log.Warn().Str("type", string(event.Type)).Msg("unhandled stream event type")
			return nil
		}
	})
}

// DumpRawEvents prints each event payload as indented JSON, trimming the
// metadata unless the router is verbose.
func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &s); err != nil {
		return err
	}
	if !e.verbose {
		if meta, ok := s["meta"].(map[string]interface{}); ok {
			s["id"] = meta["messageId"]
		}
		delete(s, "meta")
	}
	pretty, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

// watermillLogger bridges watermill's logging into zerolog.
type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(logger zerolog.Logger) *watermillLogger {
	return &watermillLogger{logger: logger}
}

var _ watermill.LoggerAdapter = &watermillLogger{}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Fields(fields).Err(err).Msg(msg)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	// map INFO to DEBUG because watermill is chatty
	w.logger.Debug().Fields(fields).Msg(msg)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(fields).Msg(msg)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(fields).Msg(msg)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: w.logger.With().Fields(fields).Logger()}
}
