package connection

import (
	"github.com/pkg/errors"
)

// ApiType discriminates which adapter a connection uses. The set is closed;
// adding a provider means adding a case to NewAdapter.
type ApiType string

const (
	ApiTypeOpenAI ApiType = "openai"
	ApiTypeOllama ApiType = "ollama"
)

// Config describes one configured connection to a model server.
type Config struct {
	Type   ApiType `json:"type"`
	Host   string  `json:"host"`
	APIKey string  `json:"apiKey,omitempty"`
	Model  string  `json:"model"`

	// Parameters are passed through to the provider request and recorded
	// as a variation's sentWith details.
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// NewAdapter selects the adapter implementation for the connection's type.
func NewAdapter(config Config) (Adapter, error) {
	switch config.Type {
	case ApiTypeOpenAI:
		return NewOpenAIAdapter(config)
	case ApiTypeOllama:
		return NewOllamaAdapter(config)
	default:
		return nil, errors.Errorf("unknown connection type %q", config.Type)
	}
}
