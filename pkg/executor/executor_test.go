package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Open-Agent-Tools/any-agent/pkg/agent"
	"github.com/Open-Agent-Tools/any-agent/pkg/isolation"
	"github.com/Open-Agent-Tools/any-agent/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoProvider answers with every user message it has seen, so a response
// leaking another context's history is directly visible in assertions.
type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Call(_ context.Context, request agent.Request) (*agent.Response, error) {
	var parts []string
	for _, msg := range request.Messages {
		if msg.Role == "user" {
			parts = append(parts, msg.Content)
		}
	}
	return &agent.Response{
		Content: strings.Join(parts, "; "),
		Usage:   &agent.TokenUsage{InputTokens: len(parts), OutputTokens: 1},
	}, nil
}

func (p echoProvider) Stream(ctx context.Context, request agent.Request, onDelta func(string) error) (*agent.Response, error) {
	resp, err := p.Call(ctx, request)
	if err != nil {
		return nil, err
	}
	if err := onDelta(resp.Content); err != nil {
		return nil, err
	}
	return resp, nil
}

// gateProvider streams one delta, then holds the call open until released or
// cancelled. Used to pin a task in the running state.
type gateProvider struct {
	started chan struct{}
	release chan struct{}
	fail    error
}

func newGateProvider() *gateProvider {
	return &gateProvider{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (*gateProvider) Name() string { return "gate" }

func (p *gateProvider) Call(ctx context.Context, request agent.Request) (*agent.Response, error) {
	return p.Stream(ctx, request, func(string) error { return nil })
}

func (p *gateProvider) Stream(ctx context.Context, _ agent.Request, onDelta func(string) error) (*agent.Response, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	if err := onDelta("thinking"); err != nil {
		return nil, err
	}
	p.started <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.release:
		return &agent.Response{Content: "done"}, nil
	}
}

func newExecutor(t *testing.T, provider agent.Provider, kind isolation.Kind) (*Executor, *registry.Registry) {
	t.Helper()
	base, err := agent.New(agent.Config{Model: "m1"}, provider, agent.NewMemoryHistory())
	require.NoError(t, err)

	var strategy isolation.Strategy
	switch kind {
	case isolation.KindNative:
		strategy = isolation.NewNative(base)
	default:
		strategy = isolation.NewInstanceCopy(base)
	}

	reg := registry.New(strategy)
	return New(reg), reg
}

func a2aPayload(text, contextID string) map[string]any {
	msg := map[string]any{
		"role":      "user",
		"messageId": "m-1",
		"parts": []any{
			map[string]any{"kind": "text", "text": text},
		},
	}
	if contextID != "" {
		msg["contextId"] = contextID
	}
	return map[string]any{"message": msg}
}

func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out draining events, got %d so far", len(out))
		}
	}
}

func waitForState(t *testing.T, reg *registry.Registry, contextID string, state registry.TaskState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rec := reg.Lookup(contextID); rec != nil && rec.State() == state {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("context %s never reached state %s", contextID, state)
}

func TestHandleMessageStreamsAndCompletes(t *testing.T) {
	e, reg := newExecutor(t, echoProvider{}, isolation.KindInstanceCopy)

	events, err := e.HandleMessage(context.Background(), a2aPayload("hello", "s1"))
	require.NoError(t, err)

	got := drain(t, events)
	require.GreaterOrEqual(t, len(got), 2)

	assert.Equal(t, EventPartial, got[0].Kind)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "s1", got[0].ContextID)
	assert.NotEmpty(t, got[0].TaskID)

	final := got[len(got)-1]
	assert.Equal(t, EventFinal, final.Kind)
	assert.Equal(t, "hello", final.Text)
	require.NotNil(t, final.Usage)

	assert.Equal(t, registry.TaskCompleted, reg.Lookup("s1").State())
}

func TestHandleMessageEmptyText(t *testing.T) {
	e, _ := newExecutor(t, echoProvider{}, isolation.KindInstanceCopy)

	_, err := e.HandleMessage(context.Background(), map[string]any{"unrelated": true})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestHandleMessageIsolatesContexts(t *testing.T) {
	e, _ := newExecutor(t, echoProvider{}, isolation.KindInstanceCopy)
	ctx := context.Background()

	events, err := e.HandleMessage(ctx, a2aPayload("my name is Alex", "s1"))
	require.NoError(t, err)
	drain(t, events)

	events, err = e.HandleMessage(ctx, a2aPayload("what is my name?", "s2"))
	require.NoError(t, err)
	got := drain(t, events)

	final := got[len(got)-1]
	require.Equal(t, EventFinal, final.Kind)
	assert.NotContains(t, final.Text, "Alex")

	// The same context keeps its own history across messages.
	events, err = e.HandleMessage(ctx, a2aPayload("what is my name?", "s1"))
	require.NoError(t, err)
	got = drain(t, events)
	assert.Contains(t, got[len(got)-1].Text, "Alex")
}

func TestHandleMessageBusyRejection(t *testing.T) {
	provider := newGateProvider()
	e, reg := newExecutor(t, provider, isolation.KindInstanceCopy)
	ctx := context.Background()

	first, err := e.HandleMessage(ctx, a2aPayload("long task", "s1"))
	require.NoError(t, err)
	<-provider.started

	second, err := e.HandleMessage(ctx, a2aPayload("another", "s1"))
	require.NoError(t, err)
	got := drain(t, second)
	require.Len(t, got, 1)
	assert.Equal(t, EventBusy, got[0].Kind)
	assert.Equal(t, "s1", got[0].ContextID)

	// The running task is unaffected by the rejection.
	close(provider.release)
	got = drain(t, first)
	assert.Equal(t, EventFinal, got[len(got)-1].Kind)
	assert.Equal(t, registry.TaskCompleted, reg.Lookup("s1").State())
}

func TestHandleMessageSingleUseContext(t *testing.T) {
	e, reg := newExecutor(t, echoProvider{}, isolation.KindInstanceCopy)

	events, err := e.HandleMessage(context.Background(), map[string]any{"text": "no context here"})
	require.NoError(t, err)
	got := drain(t, events)

	final := got[len(got)-1]
	require.Equal(t, EventFinal, final.Kind)
	assert.True(t, strings.HasPrefix(final.ContextID, "ctx-"))

	// The generated context does not outlive its task.
	assert.Nil(t, reg.Lookup(final.ContextID))
	assert.Equal(t, 0, reg.Stats().ActiveCount)
}

func TestHandleMessageProviderFailure(t *testing.T) {
	provider := newGateProvider()
	provider.fail = fmt.Errorf("upstream exploded")
	e, reg := newExecutor(t, provider, isolation.KindInstanceCopy)

	events, err := e.HandleMessage(context.Background(), a2aPayload("boom", "s1"))
	require.NoError(t, err)
	got := drain(t, events)

	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Kind)
	assert.ErrorContains(t, got[0].Err, "upstream exploded")
	assert.Equal(t, registry.TaskFailed, reg.Lookup("s1").State())

	// A failed task leaves the context usable.
	provider.fail = nil
	next, err := e.HandleMessage(context.Background(), a2aPayload("retry", "s1"))
	require.NoError(t, err)
	<-provider.started
	close(provider.release)
	got = drain(t, next)
	assert.Equal(t, EventFinal, got[len(got)-1].Kind)
}

func TestCancelRunningTask(t *testing.T) {
	provider := newGateProvider()
	e, reg := newExecutor(t, provider, isolation.KindInstanceCopy)
	ctx := context.Background()

	events, err := e.HandleMessage(ctx, a2aPayload("long task", "s1"))
	require.NoError(t, err)
	<-provider.started

	status := e.Cancel(ctx, "s1")
	assert.Equal(t, registry.CancelCancelled, status)

	got := drain(t, events)
	require.NotEmpty(t, got)
	// The delta delivered before the cancel stays delivered.
	assert.Equal(t, EventPartial, got[0].Kind)
	assert.Equal(t, "thinking", got[0].Text)
	assert.Equal(t, EventCancelled, got[len(got)-1].Kind)

	// Instance-copy contexts are evicted on cancel; the next message gets a
	// fresh handle instead of one abandoned mid-turn.
	assert.Nil(t, reg.Lookup("s1"))
}

func TestCancelIdempotent(t *testing.T) {
	provider := newGateProvider()
	e, _ := newExecutor(t, provider, isolation.KindNative)
	ctx := context.Background()

	assert.Equal(t, registry.CancelNoActiveTask, e.Cancel(ctx, "s1"))

	events, err := e.HandleMessage(ctx, a2aPayload("long task", "s1"))
	require.NoError(t, err)
	<-provider.started

	assert.Equal(t, registry.CancelCancelled, e.Cancel(ctx, "s1"))
	assert.Equal(t, registry.CancelAlreadyCancelled, e.Cancel(ctx, "s1"))
	drain(t, events)

	// After a completed task the status reports the terminal state instead.
	close(provider.release)
	events, err = e.HandleMessage(ctx, a2aPayload("quick task", "s1"))
	require.NoError(t, err)
	<-provider.started
	drain(t, events)
	assert.Equal(t, registry.CancelAlreadyCompleted, e.Cancel(ctx, "s1"))
}

func TestHandleMessageConcurrentContexts(t *testing.T) {
	e, reg := newExecutor(t, echoProvider{}, isolation.KindInstanceCopy)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			contextID := fmt.Sprintf("s%d", n)
			events, err := e.HandleMessage(ctx, a2aPayload(fmt.Sprintf("secret-%d", n), contextID))
			require.NoError(t, err)
			got := drain(t, events)
			final := got[len(got)-1]
			require.Equal(t, EventFinal, final.Kind)

			// Each context sees only its own secret.
			assert.Equal(t, fmt.Sprintf("secret-%d", n), final.Text)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, reg.Stats().ActiveCount)
}
