// Package executor turns inbound A2A payloads into isolated agent
// invocations: one running task per context, streamed output, idempotent
// cancellation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Open-Agent-Tools/any-agent/internal/observability"
	"github.com/Open-Agent-Tools/any-agent/internal/tracing"
	"github.com/Open-Agent-Tools/any-agent/pkg/isolation"
	"github.com/Open-Agent-Tools/any-agent/pkg/registry"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrEmptyMessage means no message text could be extracted from the payload.
var ErrEmptyMessage = errors.New("no message text found in payload")

// eventBuffer bounds how far task execution can run ahead of a slow consumer
// before partial delivery applies backpressure.
const eventBuffer = 32

// evictSingleUse is the eviction reason for contexts generated for a message
// that arrived without a context id.
const evictSingleUse = "single_use"

// Executor handles inbound messages against the context registry.
type Executor struct {
	registry *registry.Registry
}

// New creates an executor on top of a registry.
func New(reg *registry.Registry) *Executor {
	observability.EnsureRegistered()
	return &Executor{registry: reg}
}

// HandleMessage extracts the message from an A2A payload, admits it against
// the context's task slot, and executes it on the context's isolated handle.
// The returned channel streams partial deltas followed by exactly one
// terminal event (final, error, busy, or cancelled), then closes.
//
// A payload without a context id runs in a generated single-use context that
// is evicted when the task finishes. A context with a task already running
// yields a single busy event; the message is rejected, never queued.
func (e *Executor) HandleMessage(ctx context.Context, payload map[string]any) (<-chan Event, error) {
	inbound := Extract(payload)
	if inbound.Text == "" {
		return nil, ErrEmptyMessage
	}

	contextID := inbound.ContextID
	singleUse := false
	if contextID == "" {
		contextID = "ctx-" + gonanoid.Must()
		singleUse = true
	}
	taskID := inbound.TaskID
	if taskID == "" {
		taskID = "task-" + gonanoid.Must()
	}

	ctx = tracing.NewTaskContext(ctx, contextID, taskID)
	ctx, span := tracing.StartSpan(
		ctx,
		"anyagent.executor",
		"executor.handle_message",
		attribute.String("context_id", contextID),
		attribute.String("task_id", taskID),
		attribute.Bool("single_use", singleUse),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	rec, err := e.registry.GetOrCreate(ctx, contextID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	taskCtx, cancelTask := context.WithCancel(context.WithoutCancel(ctx))
	if err := e.registry.BeginTask(contextID, taskID, cancelTask); err != nil {
		if errors.Is(err, registry.ErrContextNotFound) {
			// The context was evicted between lookup and admission. Re-create
			// it once; a second miss means something is actively evicting it.
			rec, err = e.registry.GetOrCreate(ctx, contextID)
			if err == nil {
				err = e.registry.BeginTask(contextID, taskID, cancelTask)
			}
		}
		if errors.Is(err, registry.ErrTaskConflict) {
			cancelTask()
			logger.Warn().Msg("Message rejected: context busy")
			events := make(chan Event, 1)
			events <- Event{Kind: EventBusy, ContextID: contextID, TaskID: taskID}
			close(events)
			return events, nil
		}
		if err != nil {
			cancelTask()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to admit task %s: %w", taskID, err)
		}
	}

	logger.Info().
		Str("message_id", inbound.MessageID).
		Msg("Task started")

	events := make(chan Event, eventBuffer)
	go e.run(taskCtx, cancelTask, rec, inbound.Text, contextID, taskID, singleUse, events)
	return events, nil
}

// run executes one admitted task and emits its events. It owns the channel
// and always closes it after the terminal event.
func (e *Executor) run(
	taskCtx context.Context,
	cancelTask context.CancelFunc,
	rec *registry.Record,
	text, contextID, taskID string,
	singleUse bool,
	events chan<- Event,
) {
	start := time.Now()
	defer close(events)
	defer cancelTask()
	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	onDelta := func(delta string) error {
		select {
		case <-taskCtx.Done():
			return taskCtx.Err()
		case events <- Event{Kind: EventPartial, ContextID: contextID, TaskID: taskID, Text: delta}:
			return nil
		}
	}

	result, err := rec.Handle().Invoke(taskCtx, contextID, text, onDelta)

	switch {
	case err == nil:
		e.registry.EndTask(contextID, taskID, registry.OutcomeCompleted)
		observability.RecordTask(string(registry.OutcomeCompleted), time.Since(start))
		logger.Info().Dur("duration", time.Since(start)).Msg("Task completed")
		events <- Event{
			Kind:      EventFinal,
			ContextID: contextID,
			TaskID:    taskID,
			Text:      result.Content,
			Usage:     result.Usage,
		}

	case taskCtx.Err() != nil || errors.Is(err, context.Canceled):
		// Deltas already delivered stay delivered; only the terminal event
		// changes shape.
		e.registry.EndTask(contextID, taskID, registry.OutcomeCancelled)
		observability.RecordTask(string(registry.OutcomeCancelled), time.Since(start))
		logger.Info().Msg("Task cancelled")
		events <- Event{Kind: EventCancelled, ContextID: contextID, TaskID: taskID}

	default:
		e.registry.EndTask(contextID, taskID, registry.OutcomeFailed)
		observability.RecordTask(string(registry.OutcomeFailed), time.Since(start))
		logger.Error().Err(err).Msg("Task failed")
		events <- Event{
			Kind:      EventError,
			ContextID: contextID,
			TaskID:    taskID,
			Text:      err.Error(),
			Err:       err,
		}
	}

	if singleUse {
		if err := e.registry.Evict(context.Background(), contextID, evictSingleUse); err != nil {
			logger.Warn().Err(err).Msg("Failed to evict single-use context")
		}
	}
}

// Cancel cancels the running task for a context, if any. It never fails:
// every outcome maps to a status. Cancelling an instance-copy context also
// evicts it, so the next message gets a fresh handle instead of one whose
// conversation was cut off mid-turn.
func (e *Executor) Cancel(ctx context.Context, contextID string) registry.CancelStatus {
	ctx, span := tracing.StartSpan(
		ctx,
		"anyagent.executor",
		"executor.cancel",
		attribute.String("context_id", contextID),
	)
	defer span.End()

	status := e.registry.CancelTask(contextID)
	span.SetAttributes(attribute.String("status", string(status)))

	if status == registry.CancelCancelled && e.registry.Strategy().Kind() == isolation.KindInstanceCopy {
		if err := e.registry.Evict(ctx, contextID, "cancel"); err != nil {
			log.Warn().Str("context_id", contextID).Err(err).Msg("Failed to evict cancelled context")
		}
	}

	log.Info().
		Str("context_id", contextID).
		Str("status", string(status)).
		Msg("Cancellation handled")
	return status
}
