package isolation

import (
	"context"

	"github.com/Open-Agent-Tools/any-agent/pkg/agent"
)

// Native is the passthrough strategy for agents that key their own internal
// state by context id. Every context shares the base agent; if the agent
// does not actually honor per-context isolation this strategy cannot detect
// the bleed-through, which is the accepted trade for agents whose descriptor
// claims native support.
type Native struct {
	base *agent.Agent
}

// NewNative creates a native passthrough strategy.
func NewNative(base *agent.Agent) *Native {
	return &Native{base: base}
}

// Kind returns KindNative.
func (n *Native) Kind() Kind {
	return KindNative
}

// Acquire returns the base agent unchanged.
func (n *Native) Acquire(_ context.Context, _ string) (*agent.Agent, error) {
	return n.base, nil
}

// Release is a no-op; the base agent owns its own state.
func (n *Native) Release(_ context.Context, _ string, _ *agent.Agent) error {
	return nil
}
