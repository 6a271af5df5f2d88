package isolation

import (
	"context"
	"fmt"
	"testing"

	"github.com/Open-Agent-Tools/any-agent/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticProvider is a pointer type so identity assertions on the shared
// provider compare the same way they would against the real SDK clients.
type staticProvider struct{}

func (*staticProvider) Name() string { return "static" }
func (*staticProvider) Call(_ context.Context, request agent.Request) (*agent.Response, error) {
	var seen string
	for _, msg := range request.Messages {
		if msg.Role == "user" {
			seen += msg.Content + ";"
		}
	}
	return &agent.Response{Content: seen}, nil
}
func (p *staticProvider) Stream(ctx context.Context, request agent.Request, onDelta func(string) error) (*agent.Response, error) {
	resp, err := p.Call(ctx, request)
	if err != nil {
		return nil, err
	}
	if err := onDelta(resp.Content); err != nil {
		return nil, err
	}
	return resp, nil
}

// fakeBackend keeps provisioned histories in memory and can be told to fail.
type fakeBackend struct {
	provisioned map[string]*agent.MemoryHistory
	dropped     []string
	failNext    bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{provisioned: make(map[string]*agent.MemoryHistory)}
}

func (b *fakeBackend) Provision(_ context.Context, contextID string) (agent.HistorySource, error) {
	if b.failNext {
		return nil, fmt.Errorf("backing store unavailable")
	}
	if _, ok := b.provisioned[contextID]; !ok {
		b.provisioned[contextID] = agent.NewMemoryHistory()
	}
	return b.provisioned[contextID], nil
}

func (b *fakeBackend) Drop(_ context.Context, contextID string) error {
	delete(b.provisioned, contextID)
	b.dropped = append(b.dropped, contextID)
	return nil
}

func newBaseAgent(t *testing.T) *agent.Agent {
	t.Helper()
	base, err := agent.New(agent.Config{
		Model:        "m1",
		SystemPrompt: "base prompt",
		Tools:        []string{"search"},
	}, &staticProvider{}, agent.NewMemoryHistory())
	require.NoError(t, err)
	return base
}

func TestSelectPrefersNative(t *testing.T) {
	base := newBaseAgent(t)
	backend := newFakeBackend()

	s := Select(agent.CapabilityDescriptor{
		SupportsNativeIsolation:   true,
		SupportsInjectableSession: true,
	}, base, backend)
	assert.Equal(t, KindNative, s.Kind())
}

func TestSelectSessionManaged(t *testing.T) {
	base := newBaseAgent(t)

	s := Select(agent.CapabilityDescriptor{SupportsInjectableSession: true}, base, newFakeBackend())
	assert.Equal(t, KindSessionManaged, s.Kind())
}

func TestSelectSessionManagedWithoutBackendFallsBack(t *testing.T) {
	base := newBaseAgent(t)

	s := Select(agent.CapabilityDescriptor{SupportsInjectableSession: true}, base, nil)
	assert.Equal(t, KindInstanceCopy, s.Kind())
}

func TestSelectInstanceCopyFallback(t *testing.T) {
	base := newBaseAgent(t)

	s := Select(agent.CapabilityDescriptor{}, base, newFakeBackend())
	assert.Equal(t, KindInstanceCopy, s.Kind())
}

func TestSelectDeterministic(t *testing.T) {
	base := newBaseAgent(t)
	desc := agent.CapabilityDescriptor{SupportsInjectableSession: true}
	backend := newFakeBackend()

	for i := 0; i < 10; i++ {
		assert.Equal(t, KindSessionManaged, Select(desc, base, backend).Kind())
	}
}

func TestNativeReturnsBaseAgent(t *testing.T) {
	base := newBaseAgent(t)
	s := NewNative(base)

	h1, err := s.Acquire(context.Background(), "a")
	require.NoError(t, err)
	h2, err := s.Acquire(context.Background(), "b")
	require.NoError(t, err)

	assert.Same(t, base, h1)
	assert.Same(t, base, h2)
	assert.NoError(t, s.Release(context.Background(), "a", h1))
}

func TestSessionManagedIsolatesHistories(t *testing.T) {
	base := newBaseAgent(t)
	backend := newFakeBackend()
	s := NewSessionManaged(base, backend)
	ctx := context.Background()

	hA, err := s.Acquire(ctx, "a")
	require.NoError(t, err)
	hB, err := s.Acquire(ctx, "b")
	require.NoError(t, err)

	_, err = hA.Invoke(ctx, "a", "my name is Alex", nil)
	require.NoError(t, err)

	result, err := hB.Invoke(ctx, "b", "what is my name?", nil)
	require.NoError(t, err)
	assert.NotContains(t, result.Content, "Alex")

	// Both handles share the base provider connection.
	assert.Same(t, base.Provider(), hA.Provider())
	assert.Same(t, base.Provider(), hB.Provider())
}

func TestSessionManagedAcquireError(t *testing.T) {
	base := newBaseAgent(t)
	backend := newFakeBackend()
	backend.failNext = true
	s := NewSessionManaged(base, backend)

	_, err := s.Acquire(context.Background(), "a")
	assert.ErrorIs(t, err, ErrAcquisition)
}

func TestSessionManagedReleaseDropsBackend(t *testing.T) {
	base := newBaseAgent(t)
	backend := newFakeBackend()
	s := NewSessionManaged(base, backend)
	ctx := context.Background()

	h, err := s.Acquire(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, "a", h))
	assert.Equal(t, []string{"a"}, backend.dropped)

	// Idempotent, and safe for a handle that was never acquired.
	assert.NoError(t, s.Release(ctx, "a", h))
	assert.NoError(t, s.Release(ctx, "never-acquired", nil))
}

func TestInstanceCopyIsolatesConfigAndHistory(t *testing.T) {
	base := newBaseAgent(t)
	s := NewInstanceCopy(base)
	ctx := context.Background()

	hA, err := s.Acquire(ctx, "a")
	require.NoError(t, err)
	hB, err := s.Acquire(ctx, "b")
	require.NoError(t, err)

	assert.NotSame(t, base, hA)
	assert.NotSame(t, hA, hB)
	assert.Same(t, base.Provider(), hA.Provider())

	// Copied config, not shared backing arrays.
	cfgA := hA.Config()
	cfgA.Tools[0] = "mutated"
	assert.Equal(t, "search", base.Config().Tools[0])
	assert.Equal(t, "search", hB.Config().Tools[0])

	_, err = hA.Invoke(ctx, "a", "my name is Alex", nil)
	require.NoError(t, err)

	result, err := hB.Invoke(ctx, "b", "what is my name?", nil)
	require.NoError(t, err)
	assert.NotContains(t, result.Content, "Alex")

	assert.NoError(t, s.Release(ctx, "a", hA))
	assert.NoError(t, s.Release(ctx, "a", nil))
}
