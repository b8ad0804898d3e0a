package generation

import (
	"github.com/rs/zerolog/log"

	"github.com/llm-x/llmx/pkg/blob"
	"github.com/llm-x/llmx/pkg/chat"
	"github.com/llm-x/llmx/pkg/connection"
)

// BuildTranscript walks the chat's messages up to (excluding) the target and
// maps them into role-tagged transcript entries. A system instruction, when
// given, is prepended. Messages whose selected variation has no content are
// skipped. Attachments of user messages are resolved from the blob store
// into inline image data; unresolvable references are dropped.
func BuildTranscript(
	messages []*chat.MessageViewModel,
	target *chat.MessageViewModel,
	systemPrompt string,
	blobs blob.Store,
) connection.Transcript {
	var transcript connection.Transcript

	if systemPrompt != "" {
		transcript = append(transcript, connection.TranscriptMessage{
			Role: connection.RoleSystem,
			Text: systemPrompt,
		})
	}

	for _, message := range messages {
		if message.ID() == target.ID() {
			break
		}

		variation := message.SelectedVariation()
		if variation.Content == "" {
			continue
		}

		if message.FromBot() {
			transcript = append(transcript, connection.TranscriptMessage{
				Role: connection.RoleAssistant,
				Text: variation.Content,
			})
			continue
		}

		entry := connection.TranscriptMessage{
			Role: connection.RoleUser,
			Text: variation.Content,
		}
		for _, ref := range variation.ImageURLs {
			data, mediaType, ok := blobs.Get(ref)
			if !ok {
				log.Warn().Str("ref", ref).Msg("dropping unresolvable image reference from transcript")
				continue
			}
			entry.Images = append(entry.Images, connection.InlineImage{
				MediaType: mediaType,
				Data:      data,
			})
		}
		transcript = append(transcript, entry)
	}

	return transcript
}
