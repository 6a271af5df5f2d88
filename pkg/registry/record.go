package registry

import (
	"context"
	"sync"
	"time"

	"github.com/Open-Agent-Tools/any-agent/pkg/agent"
	"github.com/Open-Agent-Tools/any-agent/pkg/isolation"
)

// TaskState is the execution state of a context's current task slot.
type TaskState string

const (
	TaskIdle      TaskState = "idle"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Outcome is the terminal result reported for a finished task.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

func (o Outcome) state() TaskState {
	switch o {
	case OutcomeFailed:
		return TaskFailed
	case OutcomeCancelled:
		return TaskCancelled
	default:
		return TaskCompleted
	}
}

// Record is the registry's bookkeeping for one context. All mutable fields
// are guarded by mu; the map holding records has its own structural lock.
type Record struct {
	contextID string
	strategy  isolation.Kind
	createdAt time.Time

	mu            sync.Mutex
	handle        *agent.Agent
	lastUsed      time.Time
	state         TaskState
	currentTaskID string
	cancelTask    context.CancelFunc
	removed       bool
}

// ContextID returns the context id this record tracks.
func (r *Record) ContextID() string {
	return r.contextID
}

// Strategy returns the isolation strategy the record was created under.
func (r *Record) Strategy() isolation.Kind {
	return r.strategy
}

// CreatedAt returns the record creation time.
func (r *Record) CreatedAt() time.Time {
	return r.createdAt
}

// Handle returns the isolated agent handle for this context.
func (r *Record) Handle() *agent.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

// State returns the current task state.
func (r *Record) State() TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CurrentTaskID returns the id of the task presently executing, or empty.
func (r *Record) CurrentTaskID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentTaskID
}

// LastUsed returns the last time this context saw activity.
func (r *Record) LastUsed() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsed
}

// touch updates the last-used timestamp. Callers must hold mu.
func (r *Record) touchLocked() {
	r.lastUsed = time.Now()
}

// Touch updates the last-used timestamp.
func (r *Record) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked()
}
