package connection

import (
	"context"
	"net/url"
	"os"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OllamaAdapter drives a local ollama server.
type OllamaAdapter struct {
	client *api.Client
	config Config
}

var _ Adapter = (*OllamaAdapter)(nil)

func NewOllamaAdapter(config Config) (*OllamaAdapter, error) {
	host := config.Host
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	if _, err := url.Parse(host); err != nil {
		return nil, errors.Wrapf(err, "invalid ollama host %q", config.Host)
	}

	// the ollama client can only be built from the environment, so the
	// configured host has to be exported for it
	if err := os.Setenv("OLLAMA_HOST", host); err != nil {
		return nil, errors.Wrap(err, "could not export ollama host")
	}
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrapf(err, "could not create ollama client for %q", host)
	}

	return &OllamaAdapter{
		client: client,
		config: config,
	}, nil
}

func makeOllamaMessages(transcript Transcript) []api.Message {
	messages := make([]api.Message, 0, len(transcript))
	for _, entry := range transcript {
		message := api.Message{
			Role:    string(entry.Role),
			Content: entry.Text,
		}
		for _, image := range entry.Images {
			message.Images = append(message.Images, api.ImageData(image.Data))
		}
		messages = append(messages, message)
	}
	return messages
}

func (a *OllamaAdapter) GenerateChat(ctx context.Context, request ChatRequest, onDelta DeltaFunc) (map[string]interface{}, error) {
	stream := true
	req := &api.ChatRequest{
		Model:    request.Model,
		Messages: makeOllamaMessages(request.Transcript),
		Stream:   &stream,
		Options:  request.Parameters,
	}

	returnedWith := map[string]interface{}{}

	err := a.client.Chat(ctx, req, func(response api.ChatResponse) error {
		if response.Done {
			returnedWith["model"] = response.Model
			returnedWith["total_duration"] = response.Metrics.TotalDuration.Nanoseconds()
			returnedWith["eval_count"] = response.Metrics.EvalCount
			returnedWith["prompt_eval_count"] = response.Metrics.PromptEvalCount
			return nil
		}
		if response.Message.Content == "" {
			return nil
		}
		return onDelta(response.Message.Content)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "ollama chat stream failed")
	}

	log.Debug().Str("model", request.Model).Msg("ollama stream finished")
	return returnedWith, nil
}

func (a *OllamaAdapter) GenerateImages(ctx context.Context, prompt string) ([]string, error) {
	return nil, ErrUnsupported
}
