package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes events to a set of watermill publishers.
// A publisher is subscribed to a topic; Publish fans the serialized event
// out to every publisher on the topic it was subscribed with.
//
// The manager stamps each outgoing message with a sequence number, in the
// order Publish handles them.
type PublisherManager struct {
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mu             sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: make(map[string][]message.Publisher),
	}
}

func (pm *PublisherManager) SubscribePublisher(topic string, publisher message.Publisher) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.publishers[topic] = append(pm.publishers[topic], publisher)
}

func (pm *PublisherManager) Publish(event *Event) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", pm.sequenceNumber))
	pm.sequenceNumber++

	for topic, publishers := range pm.publishers {
		for _, publisher := range publishers {
			if err := publisher.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
			}
		}
	}

	return nil
}

// PublishBlind publishes and only logs failures. Streaming loops use this
// so a slow or broken subscriber never breaks the stream itself.
func (pm *PublisherManager) PublishBlind(event *Event) {
	if err := pm.Publish(event); err != nil {
		log.Warn().Err(err).Msg("failed to publish event")
	}
}
