package isolation

import (
	"context"

	"github.com/Open-Agent-Tools/any-agent/pkg/agent"
	"github.com/rs/zerolog/log"
)

// InstanceCopy is the fallback strategy for agents with no isolation
// capability. Each context gets a handle built from a deep copy of the base
// configuration and a fresh in-memory history, so nothing conversational is
// shared. The provider connection is the declared exception: it is shared,
// never duplicated. The most expensive strategy, and the only one that
// guarantees isolation without the wrapped agent's cooperation.
type InstanceCopy struct {
	base *agent.Agent
}

// NewInstanceCopy creates an instance-copy strategy.
func NewInstanceCopy(base *agent.Agent) *InstanceCopy {
	return &InstanceCopy{base: base}
}

// Kind returns KindInstanceCopy.
func (i *InstanceCopy) Kind() Kind {
	return KindInstanceCopy
}

// Acquire builds an independent handle for the context.
func (i *InstanceCopy) Acquire(_ context.Context, contextID string) (*agent.Agent, error) {
	handle := i.base.WithHistory(i.base.Config().Clone(), agent.NewMemoryHistory())
	log.Debug().Str("context_id", contextID).Msg("Created instance-copy handle")
	return handle, nil
}

// Release drops the reference; the copied instance is collected normally.
func (i *InstanceCopy) Release(_ context.Context, _ string, _ *agent.Agent) error {
	return nil
}
