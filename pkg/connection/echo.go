package connection

import (
	"context"
	"time"
)

// EchoAdapter replays a fixed list of fragments. It exists for tests and
// for exercising the engine without a model server.
type EchoAdapter struct {
	Fragments []string

	// Delay is the pause between fragments, giving callers a window to
	// cancel mid-stream.
	Delay time.Duration
}

var _ Adapter = (*EchoAdapter)(nil)

func (a *EchoAdapter) GenerateChat(ctx context.Context, request ChatRequest, onDelta DeltaFunc) (map[string]interface{}, error) {
	for _, fragment := range a.Fragments {
		if a.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.Delay):
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if err := onDelta(fragment); err != nil {
			return nil, err
		}
	}
	return map[string]interface{}{"echo": true}, nil
}

func (a *EchoAdapter) GenerateImages(ctx context.Context, prompt string) ([]string, error) {
	return nil, ErrUnsupported
}
