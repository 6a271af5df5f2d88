package agent

import (
	"time"
)

// Config holds the wrapped agent's conversational configuration. These are
// the fields Instance-Copy isolation duplicates per context; the provider
// connection is deliberately not part of it.
type Config struct {
	Name         string   `json:"name,omitempty"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Tools        []string `json:"tools,omitempty"`
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	out := c
	if c.Tools != nil {
		out.Tools = make([]string, len(c.Tools))
		copy(out.Tools, c.Tools)
	}
	return out
}

// DefaultConfig returns a default agent configuration.
func DefaultConfig() Config {
	return Config{
		Model:       "claude-3-5-sonnet-20241022",
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Message represents a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Request contains the parameters for one provider call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Temperature  float64
	MaxTokens    int
}

// Response contains the provider's reply.
type Response struct {
	Content string
	Usage   *TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result contains the outcome of one agent invocation.
type Result struct {
	ContextID string      `json:"context_id"`
	Content   string      `json:"content"`
	Usage     *TokenUsage `json:"usage,omitempty"`
}

// CapabilityDescriptor is static metadata about the wrapped agent, produced
// by the (external) framework detection step. It is read once at wiring time
// and never re-probed per request.
type CapabilityDescriptor struct {
	// SupportsNativeIsolation means the agent keys its own internal state by
	// the context id embedded in each message.
	SupportsNativeIsolation bool `json:"supports_native_isolation"`

	// SupportsInjectableSession means the agent accepts an external,
	// context-scoped session store for its conversation history.
	SupportsInjectableSession bool `json:"supports_injectable_session"`
}
