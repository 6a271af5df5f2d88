package isolation

import (
	"context"
	"fmt"

	"github.com/Open-Agent-Tools/any-agent/pkg/agent"
	"github.com/rs/zerolog/log"
)

// SessionManaged isolates contexts by provisioning a store-backed history
// per context and binding it into a lightweight handle. The handle shares
// the base agent's provider connection: an already-negotiated backend
// session must be referenced, not recreated, so only the conversational
// store is per-context.
type SessionManaged struct {
	base    *agent.Agent
	backend SessionBackend
}

// NewSessionManaged creates a session-managed strategy.
func NewSessionManaged(base *agent.Agent, backend SessionBackend) *SessionManaged {
	return &SessionManaged{base: base, backend: backend}
}

// Kind returns KindSessionManaged.
func (s *SessionManaged) Kind() Kind {
	return KindSessionManaged
}

// Acquire provisions a context-scoped history and wraps it around the base
// agent's configuration.
func (s *SessionManaged) Acquire(ctx context.Context, contextID string) (*agent.Agent, error) {
	history, err := s.backend.Provision(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisition, err)
	}

	log.Debug().Str("context_id", contextID).Msg("Provisioned session-managed handle")
	return s.base.WithHistory(s.base.Config(), history), nil
}

// Release drops the context's provisioned history. Safe to call for a
// context that was never fully acquired.
func (s *SessionManaged) Release(ctx context.Context, contextID string, _ *agent.Agent) error {
	if err := s.backend.Drop(ctx, contextID); err != nil {
		return fmt.Errorf("failed to drop session for context %s: %w", contextID, err)
	}
	return nil
}
