// Package service assembles the context isolation subsystem from
// configuration: provider, base agent, session store, strategy, registry,
// executor, and lifecycle sweeper. The protocol layer in front of it only
// ever talks to a Service.
package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Open-Agent-Tools/any-agent/internal/config"
	"github.com/Open-Agent-Tools/any-agent/internal/logger"
	"github.com/Open-Agent-Tools/any-agent/internal/observability"
	"github.com/Open-Agent-Tools/any-agent/internal/tracing"
	"github.com/Open-Agent-Tools/any-agent/pkg/agent"
	"github.com/Open-Agent-Tools/any-agent/pkg/executor"
	"github.com/Open-Agent-Tools/any-agent/pkg/isolation"
	"github.com/Open-Agent-Tools/any-agent/pkg/lifecycle"
	"github.com/Open-Agent-Tools/any-agent/pkg/registry"
	"github.com/Open-Agent-Tools/any-agent/pkg/session"
	"github.com/rs/zerolog/log"
)

// Service is the assembled subsystem.
type Service struct {
	cfg *config.Config

	logging   *logger.Logger
	store     *session.Store
	base      *agent.Agent
	registry  *registry.Registry
	executor  *executor.Executor
	lifecycle *lifecycle.Manager
}

// New builds a service from configuration. The session store is opened only
// when the capability descriptor says the wrapped agent can use it.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceName := cfg.Agent.Name
	if serviceName == "" {
		serviceName = "any-agent"
	}
	if err := tracing.InitOpenTelemetry(serviceName); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled: tracer provider failed to initialize")
	}
	observability.EnsureRegistered()

	provider, err := agent.NewProvider(cfg.Agent.Provider, cfg.Agent.APIKey)
	if err != nil {
		return nil, err
	}

	base, err := agent.New(agent.Config{
		Name:         cfg.Agent.Name,
		Model:        cfg.Agent.Model,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
		Tools:        cfg.Agent.Tools,
	}, provider, agent.NewMemoryHistory())
	if err != nil {
		return nil, fmt.Errorf("failed to build base agent: %w", err)
	}

	desc := agent.CapabilityDescriptor{
		SupportsNativeIsolation:   cfg.Capabilities.NativeIsolation,
		SupportsInjectableSession: cfg.Capabilities.InjectableSession,
	}

	var (
		store   *session.Store
		backend isolation.SessionBackend
	)
	if desc.SupportsInjectableSession && !desc.SupportsNativeIsolation {
		store, err = session.Open(cfg.Isolation.SessionDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		backend = store
	}

	strategy := isolation.Select(desc, base, backend)
	reg := registry.New(strategy)

	svc := &Service{
		cfg:      cfg,
		logging:  logging,
		store:    store,
		base:     base,
		registry: reg,
		executor: executor.New(reg),
		lifecycle: lifecycle.New(reg, lifecycle.Options{
			IdleTimeout:   cfg.Isolation.IdleTimeout,
			SweepInterval: cfg.Isolation.SweepInterval,
			Schedule:      cfg.Isolation.SweepSchedule,
		}),
	}

	log.Info().
		Str("provider", provider.Name()).
		Str("model", cfg.Agent.Model).
		Str("strategy", string(strategy.Kind())).
		Msg("Context isolation service assembled")
	return svc, nil
}

// Start launches background work (the lifecycle sweeper).
func (s *Service) Start(ctx context.Context) error {
	return s.lifecycle.Start(ctx)
}

// Stop shuts the subsystem down: sweeper first, then the registry (evicting
// idle contexts), then the store and the tracer. Contexts with running tasks
// are left to their owners and reported.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycle.Stop(ctx)

	if busy := s.registry.Shutdown(ctx); busy > 0 {
		log.Warn().Int("busy", busy).Msg("Shutdown left busy contexts behind")
	}

	var firstErr error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			firstErr = err
		}
	}
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.logging.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// HandleMessage routes an inbound A2A payload to the executor.
func (s *Service) HandleMessage(ctx context.Context, payload map[string]any) (<-chan executor.Event, error) {
	return s.executor.HandleMessage(tracing.NewRequestContext(ctx), payload)
}

// Cancel cancels the running task for a context.
func (s *Service) Cancel(ctx context.Context, contextID string) registry.CancelStatus {
	return s.executor.Cancel(ctx, contextID)
}

// Cleanup removes one context immediately.
func (s *Service) Cleanup(ctx context.Context, contextID string) lifecycle.CleanupStatus {
	return s.lifecycle.Cleanup(ctx, contextID)
}

// Stats returns the merged lifecycle and registry statistics.
func (s *Service) Stats() lifecycle.Stats {
	return s.lifecycle.Stats()
}

// Registry exposes the context registry for callers that need direct access.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// MetricsHandler returns the HTTP handler exposing prometheus metrics.
func (s *Service) MetricsHandler() http.Handler {
	return observability.MetricsHandler()
}
