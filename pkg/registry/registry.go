// Package registry provides the concurrency-safe map from context id to
// isolated agent handle, and owns the task-state transitions that serialize
// work within a context.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Open-Agent-Tools/any-agent/internal/observability"
	"github.com/Open-Agent-Tools/any-agent/internal/tracing"
	"github.com/Open-Agent-Tools/any-agent/pkg/isolation"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrTaskConflict means a task is already running for the context.
	ErrTaskConflict = errors.New("a task is already running for this context")
	// ErrContextBusy means the context cannot be evicted while its task runs.
	ErrContextBusy = errors.New("context has a running task")
	// ErrContextNotFound means no record exists for the context id.
	ErrContextNotFound = errors.New("context not found")
	// ErrShutdown means the registry no longer accepts new contexts.
	ErrShutdown = errors.New("registry is shut down")
)

// CancelStatus describes the outcome of a cancellation request. Cancellation
// never fails; every case is a normal status.
type CancelStatus string

const (
	CancelCancelled        CancelStatus = "cancelled"
	CancelNoActiveTask     CancelStatus = "no_active_task"
	CancelAlreadyCompleted CancelStatus = "already_completed"
	CancelAlreadyCancelled CancelStatus = "already_cancelled"
)

// Stats is a read-only snapshot of registry counters.
type Stats struct {
	ActiveCount  int   `json:"active_contexts"`
	CreatedTotal int64 `json:"created_total"`
	EvictedTotal int64 `json:"evicted_total"`
}

// Registry maps context ids to isolated handles. Structural changes to the
// map take the registry lock briefly; per-context state transitions take
// only that record's lock, so unrelated contexts never serialize on each
// other in steady state.
type Registry struct {
	strategy isolation.Strategy

	mu      sync.RWMutex
	records map[string]*Record
	created int64
	evicted int64
	closed  bool
}

// New creates an empty registry using the given isolation strategy.
func New(strategy isolation.Strategy) *Registry {
	observability.EnsureRegistered()

	return &Registry{
		strategy: strategy,
		records:  make(map[string]*Record),
	}
}

// Strategy returns the isolation strategy the registry was built with.
func (r *Registry) Strategy() isolation.Strategy {
	return r.strategy
}

// Lookup returns the record for a context id, or nil.
func (r *Registry) Lookup(contextID string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[contextID]
}

// ContextIDs returns a snapshot of the registered context ids.
func (r *Registry) ContextIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	return ids
}

// GetOrCreate returns the record for a context, creating it through the
// strategy on first sight. Creation is exactly-once per context id: a
// concurrent caller for the same new id blocks on the record lock until the
// handle is acquired rather than acquiring a second one. A lookup that races
// an eviction of the same id retries creation instead of failing.
func (r *Registry) GetOrCreate(ctx context.Context, contextID string) (*Record, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"anyagent.registry",
		"registry.get_or_create",
		attribute.String("context_id", contextID),
	)
	defer span.End()

	var rec *Record
	for rec == nil {
		r.mu.RLock()
		existing := r.records[contextID]
		closed := r.closed
		r.mu.RUnlock()

		if existing != nil {
			if existing.waitReady() == nil {
				existing.Touch()
				return existing, nil
			}
			// The record was evicted while we looked at it. The caller asked
			// for a live context, not a snapshot: recreate instead of failing.
			continue
		}
		if closed {
			return nil, ErrShutdown
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrShutdown
		}
		if existing := r.records[contextID]; existing != nil {
			r.mu.Unlock()
			if existing.waitReady() == nil {
				existing.Touch()
				return existing, nil
			}
			continue
		}

		now := time.Now()
		rec = &Record{
			contextID: contextID,
			strategy:  r.strategy.Kind(),
			createdAt: now,
			lastUsed:  now,
			state:     TaskIdle,
		}
		// Publish the record while holding its lock so concurrent callers wait
		// on initialization instead of racing the strategy.
		rec.mu.Lock()
		r.records[contextID] = rec
		r.mu.Unlock()
	}

	handle, err := r.strategy.Acquire(ctx, contextID)
	if err != nil {
		rec.removed = true
		rec.mu.Unlock()

		r.mu.Lock()
		delete(r.records, contextID)
		r.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("acquisition failed for context %s: %w", contextID, err)
	}

	rec.handle = handle
	rec.mu.Unlock()

	r.mu.Lock()
	r.created++
	active := len(r.records)
	r.mu.Unlock()

	observability.RecordContextCreated(string(r.strategy.Kind()), active)
	log.Info().
		Str("context_id", contextID).
		Str("strategy", string(r.strategy.Kind())).
		Msg("Context created")

	return rec, nil
}

// waitReady blocks until the record's handle is initialized, reporting an
// error if the record was removed before initialization completed.
func (r *Record) waitReady() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return ErrContextNotFound
	}
	return nil
}

// BeginTask transitions a context from idle (or any terminal state) to
// running. The cancel function is invoked if the task is later cancelled.
func (r *Registry) BeginTask(contextID, taskID string, cancel context.CancelFunc) error {
	rec := r.Lookup(contextID)
	if rec == nil {
		return ErrContextNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.removed {
		return ErrContextNotFound
	}
	if rec.state == TaskRunning {
		observability.RecordTaskRejected()
		return fmt.Errorf("%w: task %s", ErrTaskConflict, rec.currentTaskID)
	}

	rec.state = TaskRunning
	rec.currentTaskID = taskID
	rec.cancelTask = cancel
	rec.touchLocked()

	return nil
}

// EndTask reports a task's terminal outcome and frees the context's task
// slot. A stale end report for a task that was already cancelled (and whose
// slot was cleared) is ignored.
func (r *Registry) EndTask(contextID, taskID string, outcome Outcome) {
	rec := r.Lookup(contextID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.currentTaskID != taskID {
		return
	}

	rec.state = outcome.state()
	rec.currentTaskID = ""
	rec.cancelTask = nil
	rec.touchLocked()
}

// CancelTask cancels a context's running task. Idempotent: every outcome,
// including "nothing to do," is a normal status.
func (r *Registry) CancelTask(contextID string) CancelStatus {
	rec := r.Lookup(contextID)
	if rec == nil {
		observability.RecordCancel(string(CancelNoActiveTask))
		return CancelNoActiveTask
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	var status CancelStatus
	switch rec.state {
	case TaskRunning:
		if rec.cancelTask != nil {
			rec.cancelTask()
		}
		rec.state = TaskCancelled
		rec.currentTaskID = ""
		rec.cancelTask = nil
		status = CancelCancelled
	case TaskCancelled:
		status = CancelAlreadyCancelled
	case TaskCompleted, TaskFailed:
		status = CancelAlreadyCompleted
	default:
		status = CancelNoActiveTask
	}

	rec.touchLocked()
	observability.RecordCancel(string(status))
	return status
}

// Evict removes a context and releases its strategy resources. It refuses
// to evict a context whose task is running, and is a no-op for unknown ids.
func (r *Registry) Evict(ctx context.Context, contextID, reason string) error {
	rec := r.Lookup(contextID)
	if rec == nil {
		return nil
	}

	rec.mu.Lock()
	// Re-check under the record lock: a task may have started since the
	// caller decided to evict.
	if rec.state == TaskRunning {
		rec.mu.Unlock()
		return ErrContextBusy
	}
	if rec.removed {
		rec.mu.Unlock()
		return nil
	}
	rec.removed = true
	handle := rec.handle

	r.mu.Lock()
	delete(r.records, contextID)
	r.evicted++
	active := len(r.records)
	r.mu.Unlock()
	rec.mu.Unlock()

	if err := r.strategy.Release(ctx, contextID, handle); err != nil {
		log.Warn().
			Str("context_id", contextID).
			Err(err).
			Msg("Failed to release strategy resources")
	}

	observability.RecordContextEvicted(reason, active)
	log.Info().
		Str("context_id", contextID).
		Str("reason", reason).
		Msg("Context evicted")

	return nil
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		ActiveCount:  len(r.records),
		CreatedTotal: r.created,
		EvictedTotal: r.evicted,
	}
}

// Shutdown stops accepting new contexts and evicts every idle one. It
// returns the number of contexts left behind because their tasks were still
// running.
func (r *Registry) Shutdown(ctx context.Context) int {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	busy := 0
	for _, id := range r.ContextIDs() {
		if err := r.Evict(ctx, id, "shutdown"); errors.Is(err, ErrContextBusy) {
			busy++
		}
	}

	log.Info().Int("busy", busy).Msg("Registry shut down")
	return busy
}
