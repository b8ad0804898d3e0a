package connection

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter drives any OpenAI-compatible chat completion endpoint.
type OpenAIAdapter struct {
	client *go_openai.Client
	config Config
}

var _ Adapter = (*OpenAIAdapter)(nil)

func NewOpenAIAdapter(config Config) (*OpenAIAdapter, error) {
	apiKey := config.APIKey
	if apiKey == "" {
		// local OpenAI-compatible servers accept any key
		apiKey = "not-needed"
	}

	clientConfig := go_openai.DefaultConfig(apiKey)
	if config.Host != "" {
		clientConfig.BaseURL = config.Host
	}

	return &OpenAIAdapter{
		client: go_openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

func makeOpenAIMessages(transcript Transcript) []go_openai.ChatCompletionMessage {
	messages := make([]go_openai.ChatCompletionMessage, 0, len(transcript))

	for _, entry := range transcript {
		if len(entry.Images) == 0 {
			messages = append(messages, go_openai.ChatCompletionMessage{
				Role:    string(entry.Role),
				Content: entry.Text,
			})
			continue
		}

		parts := []go_openai.ChatMessagePart{
			{Type: go_openai.ChatMessagePartTypeText, Text: entry.Text},
		}
		for _, image := range entry.Images {
			dataURL := fmt.Sprintf("data:%s;base64,%s",
				image.MediaType, base64.StdEncoding.EncodeToString(image.Data))
			parts = append(parts, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeImageURL,
				ImageURL: &go_openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: go_openai.ImageURLDetailAuto,
				},
			})
		}
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:         string(entry.Role),
			MultiContent: parts,
		})
	}

	return messages
}

func (a *OpenAIAdapter) GenerateChat(ctx context.Context, request ChatRequest, onDelta DeltaFunc) (map[string]interface{}, error) {
	req := go_openai.ChatCompletionRequest{
		Model:       request.Model,
		Messages:    makeOpenAIMessages(request.Transcript),
		Stream:      true,
		Temperature: float32Parameter(request.Parameters, "temperature"),
		TopP:        float32Parameter(request.Parameters, "top_p"),
		MaxTokens:   intParameter(request.Parameters, "max_tokens"),
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "could not open chat completion stream")
	}
	defer stream.Close()

	finishReason := ""
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "chat completion stream failed")
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		if err := onDelta(choice.Delta.Content); err != nil {
			return nil, err
		}
	}

	log.Debug().Str("model", request.Model).Str("finish_reason", finishReason).Msg("openai stream finished")

	returnedWith := map[string]interface{}{
		"model": request.Model,
	}
	if finishReason != "" {
		returnedWith["finish_reason"] = finishReason
	}
	return returnedWith, nil
}

func (a *OpenAIAdapter) GenerateImages(ctx context.Context, prompt string) ([]string, error) {
	return nil, ErrUnsupported
}

func float32Parameter(parameters map[string]interface{}, key string) float32 {
	switch v := parameters[key].(type) {
	case float64:
		return float32(v)
	case float32:
		return v
	case int:
		return float32(v)
	default:
		return 0
	}
}

func intParameter(parameters map[string]interface{}, key string) int {
	switch v := parameters[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
