package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Open-Agent-Tools/any-agent/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// HistorySource supplies and records the conversation history an agent sees.
// Implementations decide how history is keyed: the in-memory source keys by
// context id, a store-backed source may be pinned to a single context.
type HistorySource interface {
	History(ctx context.Context, contextID string) ([]Message, error)
	Append(ctx context.Context, contextID string, messages ...Message) error
}

// Agent is the invocable wrapped-agent value. It binds a configuration, a
// shared provider connection, and a history source.
type Agent struct {
	config   Config
	provider Provider
	history  HistorySource
}

// New creates an agent. A nil history source means the agent is stateless:
// every invocation sees only the incoming message.
func New(config Config, provider Provider, history HistorySource) (*Agent, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &Agent{
		config:   config,
		provider: provider,
		history:  history,
	}, nil
}

// Config returns the agent's configuration.
func (a *Agent) Config() Config {
	return a.config
}

// Provider returns the agent's provider connection.
func (a *Agent) Provider() Provider {
	return a.provider
}

// WithHistory returns a new agent sharing this agent's provider but using
// the given configuration and history source. Used by isolation strategies
// to derive per-context handles without duplicating the connection.
func (a *Agent) WithHistory(config Config, history HistorySource) *Agent {
	return &Agent{
		config:   config,
		provider: a.provider,
		history:  history,
	}
}

// Invoke sends one user message for the given context, optionally streaming
// text deltas through onDelta, and records the exchange in the history
// source.
func (a *Agent) Invoke(ctx context.Context, contextID, text string, onDelta func(delta string) error) (*Result, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"anyagent.agent",
		"agent.invoke",
		attribute.String("context_id", contextID),
		attribute.String("provider", a.provider.Name()),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	var messages []Message
	if a.history != nil {
		prior, err := a.history.History(ctx, contextID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		messages = prior
	}

	userTurn := Message{Role: "user", Content: text, Timestamp: time.Now()}
	messages = append(messages, userTurn)

	request := Request{
		Model:        a.config.Model,
		SystemPrompt: a.config.SystemPrompt,
		Messages:     messages,
		Temperature:  a.config.Temperature,
		MaxTokens:    a.config.MaxTokens,
	}

	var (
		response *Response
		err      error
	)
	if onDelta != nil {
		response, err = a.provider.Stream(ctx, request, onDelta)
	} else {
		response, err = a.provider.Call(ctx, request)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if a.history != nil {
		assistantTurn := Message{Role: "assistant", Content: response.Content, Timestamp: time.Now()}
		if err := a.history.Append(ctx, contextID, userTurn, assistantTurn); err != nil {
			logger.Warn().Err(err).Msg("Failed to record exchange in history")
		}
	}

	return &Result{
		ContextID: contextID,
		Content:   response.Content,
		Usage:     response.Usage,
	}, nil
}

// MemoryHistory is an in-memory history source keyed by context id. It is
// the default history for base agents and Instance-Copy handles.
type MemoryHistory struct {
	mu       sync.RWMutex
	messages map[string][]Message
}

// NewMemoryHistory creates an empty in-memory history source.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		messages: make(map[string][]Message),
	}
}

// History returns a copy of the messages recorded for a context.
func (m *MemoryHistory) History(_ context.Context, contextID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[contextID]
	out := make([]Message, len(stored))
	copy(out, stored)
	return out, nil
}

// Append records messages for a context.
func (m *MemoryHistory) Append(_ context.Context, contextID string, messages ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[contextID] = append(m.messages[contextID], messages...)
	return nil
}
