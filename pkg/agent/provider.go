package agent

import (
	"context"
	"fmt"
)

// Provider is the stateful connection to an LLM backend. Isolation
// strategies share a single Provider across contexts; duplicating it would
// break connection-level state the same way recreating an MCP client would.
type Provider interface {
	// Call makes a blocking completion call.
	Call(ctx context.Context, request Request) (*Response, error)

	// Stream makes a streaming completion call, invoking onDelta for every
	// text fragment as it arrives. Returning an error from onDelta stops the
	// stream.
	Stream(ctx context.Context, request Request, onDelta func(delta string) error) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// NewProvider creates a provider from a name and API key.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
