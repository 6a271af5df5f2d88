// Package isolation implements the per-context isolation strategies that
// give each conversation its own view of a wrapped agent.
package isolation

import (
	"context"
	"errors"

	"github.com/Open-Agent-Tools/any-agent/pkg/agent"
	"github.com/rs/zerolog/log"
)

// Kind identifies an isolation strategy.
type Kind string

const (
	// KindNative trusts the wrapped agent to isolate contexts internally.
	KindNative Kind = "native"
	// KindSessionManaged injects a per-context session store into a
	// lightweight handle that shares the base agent's connection.
	KindSessionManaged Kind = "session_managed"
	// KindInstanceCopy duplicates the agent configuration into a fully
	// independent handle per context.
	KindInstanceCopy Kind = "instance_copy"
)

// ErrAcquisition marks failures to produce a handle for a context.
var ErrAcquisition = errors.New("failed to acquire isolated handle")

// Strategy produces and releases per-context agent handles.
type Strategy interface {
	// Kind returns the strategy identifier.
	Kind() Kind

	// Acquire returns the handle to invoke for a context. Errors wrap
	// ErrAcquisition.
	Acquire(ctx context.Context, contextID string) (*agent.Agent, error)

	// Release frees strategy-specific resources held for a context. It is
	// idempotent and safe to call with a nil or never-initialized handle.
	Release(ctx context.Context, contextID string, handle *agent.Agent) error
}

// SessionBackend provisions per-context history for the Session-Managed
// strategy and drops it on release.
type SessionBackend interface {
	Provision(ctx context.Context, contextID string) (agent.HistorySource, error)
	Drop(ctx context.Context, contextID string) error
}

// Select picks the strategy for a wrapped agent from its capability
// descriptor. Preference order is Native, then Session-Managed, then
// Instance-Copy: more-native strategies are cheaper and preserve more of the
// wrapped agent's own guarantees. The choice is made once per wrapped agent,
// never per request.
func Select(desc agent.CapabilityDescriptor, base *agent.Agent, backend SessionBackend) Strategy {
	switch {
	case desc.SupportsNativeIsolation:
		log.Info().Msg("Agent reports native context isolation, using passthrough strategy")
		return NewNative(base)
	case desc.SupportsInjectableSession && backend != nil:
		log.Info().Msg("Agent accepts injectable sessions, using session-managed strategy")
		return NewSessionManaged(base, backend)
	default:
		if desc.SupportsInjectableSession {
			log.Warn().Msg("No session backend configured, falling back to instance-copy strategy")
		} else {
			log.Info().Msg("Agent has no isolation capability, using instance-copy strategy")
		}
		return NewInstanceCopy(base)
	}
}
