// Package lifecycle evicts idle contexts and exposes explicit cleanup so
// long-lived deployments do not accumulate abandoned conversations.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Open-Agent-Tools/any-agent/internal/observability"
	"github.com/Open-Agent-Tools/any-agent/internal/tracing"
	"github.com/Open-Agent-Tools/any-agent/pkg/registry"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// CleanupStatus is the result of an explicit cleanup request. Cleanup never
// fails; a busy or unknown context is a status, not an error.
type CleanupStatus string

const (
	CleanupRemoved  CleanupStatus = "removed"
	CleanupBusy     CleanupStatus = "busy"
	CleanupNotFound CleanupStatus = "not_found"
)

// Stats merges registry counters with the sweeper's own state.
type Stats struct {
	registry.Stats

	Running          bool          `json:"running"`
	IdleTimeout      time.Duration `json:"idle_timeout"`
	SweepsRun        int64         `json:"sweeps_run"`
	LastSweepAt      time.Time     `json:"last_sweep_at,omitempty"`
	LastSweepEvicted int           `json:"last_sweep_evicted"`
}

// Options configures the manager. Schedule, when set, is a cron expression
// that replaces the interval ticker.
type Options struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Schedule      string
}

// Manager owns the idle sweep loop for one registry.
type Manager struct {
	registry *registry.Registry
	opts     Options

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	done        chan struct{}
	scheduler   *cron.Cron
	sweeps      int64
	lastSweep   time.Time
	lastEvicted int
}

// New creates a manager for the given registry.
func New(reg *registry.Registry, opts Options) *Manager {
	observability.EnsureRegistered()
	return &Manager{registry: reg, opts: opts}
}

// Start launches the sweep loop. With a cron schedule configured it runs on
// that schedule; otherwise a plain interval ticker drives it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	if m.opts.Schedule != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(m.opts.Schedule, func() {
			m.SweepNow(context.Background())
		}); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", m.opts.Schedule, err)
		}
		scheduler.Start()
		m.scheduler = scheduler
		m.running = true
		log.Info().
			Str("schedule", m.opts.Schedule).
			Dur("idle_timeout", m.opts.IdleTimeout).
			Msg("Lifecycle sweeper started")
		return nil
	}

	if m.opts.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", m.opts.SweepInterval)
	}

	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stopCh, m.done)
	m.running = true
	log.Info().
		Dur("interval", m.opts.SweepInterval).
		Dur("idle_timeout", m.opts.IdleTimeout).
		Msg("Lifecycle sweeper started")
	return nil
}

func (m *Manager) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.SweepNow(context.Background())
		}
	}
}

// Stop halts the sweep loop and waits for an in-flight pass to finish.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	scheduler := m.scheduler
	stopCh, done := m.stopCh, m.done
	m.scheduler, m.stopCh, m.done = nil, nil, nil
	m.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if stopCh != nil {
		close(stopCh)
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	log.Info().Msg("Lifecycle sweeper stopped")
}

// SweepNow runs one eviction pass and returns how many contexts it evicted.
// Contexts with a running task are left alone regardless of idle time; the
// registry re-checks that under the record lock, so a task that starts while
// the sweep is deciding still wins.
func (m *Manager) SweepNow(ctx context.Context) int {
	ctx, span := tracing.StartSpan(ctx, "anyagent.lifecycle", "lifecycle.sweep")
	defer span.End()

	start := time.Now()
	cutoff := start.Add(-m.opts.IdleTimeout)
	evicted := 0

	for _, contextID := range m.registry.ContextIDs() {
		rec := m.registry.Lookup(contextID)
		if rec == nil || rec.LastUsed().After(cutoff) {
			continue
		}
		err := m.registry.Evict(ctx, contextID, "idle")
		switch {
		case err == nil:
			evicted++
		case errors.Is(err, registry.ErrContextBusy):
			log.Debug().Str("context_id", contextID).Msg("Skipping busy context during sweep")
		default:
			log.Warn().Str("context_id", contextID).Err(err).Msg("Sweep eviction failed")
		}
	}

	duration := time.Since(start)
	m.mu.Lock()
	m.sweeps++
	m.lastSweep = start
	m.lastEvicted = evicted
	m.mu.Unlock()

	observability.RecordSweep(duration)
	span.SetAttributes(attribute.Int("evicted", evicted))
	if evicted > 0 {
		log.Info().Int("evicted", evicted).Dur("duration", duration).Msg("Idle sweep completed")
	}
	return evicted
}

// Cleanup removes one context immediately, regardless of idle time. A
// context with a running task is reported busy and kept.
func (m *Manager) Cleanup(ctx context.Context, contextID string) CleanupStatus {
	if m.registry.Lookup(contextID) == nil {
		return CleanupNotFound
	}

	err := m.registry.Evict(ctx, contextID, "explicit")
	switch {
	case errors.Is(err, registry.ErrContextBusy):
		return CleanupBusy
	case err != nil:
		log.Warn().Str("context_id", contextID).Err(err).Msg("Explicit cleanup failed")
		return CleanupBusy
	default:
		return CleanupRemoved
	}
}

// Stats returns a merged snapshot of registry and sweeper state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Stats:            m.registry.Stats(),
		Running:          m.running,
		IdleTimeout:      m.opts.IdleTimeout,
		SweepsRun:        m.sweeps,
		LastSweepAt:      m.lastSweep,
		LastSweepEvicted: m.lastEvicted,
	}
}
