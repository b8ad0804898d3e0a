// Package connection abstracts model providers behind a uniform streaming
// generation contract. The engine drives every provider through Adapter;
// provider-specific request schemas stay inside the adapter implementations.
package connection

import (
	"context"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned for capability failures, e.g. requesting image
// generation from a text-only adapter. It is never retried.
var ErrUnsupported = errors.New("operation not supported by this connection")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// InlineImage carries attachment bytes resolved from the blob store into
// the form providers consume.
type InlineImage struct {
	MediaType string
	Data      []byte
}

// TranscriptMessage is one role-tagged entry of the transcript fed to a
// provider.
type TranscriptMessage struct {
	Role   Role
	Text   string
	Images []InlineImage
}

type Transcript []TranscriptMessage

// ChatRequest is a provider-independent generation request.
type ChatRequest struct {
	Model      string
	Transcript Transcript

	// Parameters are the sampling options actually sent with the request;
	// the coordinator records them into the variation's extra details.
	Parameters map[string]interface{}
}

// DeltaFunc receives each text fragment as it arrives. Returning an error
// stops the stream.
type DeltaFunc func(delta string) error

// Adapter implements the streaming generation capability for one provider.
//
// GenerateChat blocks until the stream ends, the context is cancelled, or
// the provider fails. Cancellation is cooperative: the adapter must stop
// producing fragments once ctx is done and return ctx.Err(). On normal end
// it returns whatever generation metadata the provider reported.
type Adapter interface {
	GenerateChat(ctx context.Context, request ChatRequest, onDelta DeltaFunc) (map[string]interface{}, error)

	// GenerateImages returns ErrUnsupported when the adapter has no image
	// generation capability.
	GenerateImages(ctx context.Context, prompt string) ([]string, error)
}
