package executor

import "github.com/Open-Agent-Tools/any-agent/pkg/agent"

// EventKind classifies the events emitted while a message is handled.
type EventKind string

const (
	// EventPartial carries one streamed text delta.
	EventPartial EventKind = "partial"
	// EventFinal carries the complete response text and token usage.
	EventFinal EventKind = "final"
	// EventError reports that the task failed.
	EventError EventKind = "error"
	// EventBusy reports that the context already has a running task. The
	// message is rejected, not queued.
	EventBusy EventKind = "busy"
	// EventCancelled reports that the task was cancelled before completing.
	EventCancelled EventKind = "cancelled"
)

// Event is one item on the stream returned by HandleMessage. Every event
// carries the context and task ids so consumers can correlate streams.
type Event struct {
	Kind      EventKind         `json:"kind"`
	ContextID string            `json:"context_id"`
	TaskID    string            `json:"task_id"`
	Text      string            `json:"text,omitempty"`
	Usage     *agent.TokenUsage `json:"usage,omitempty"`
	Err       error             `json:"-"`
}
