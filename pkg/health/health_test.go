package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "PluginSystem/internal/errors"
	"PluginSystem/pkg/logger"
	"PluginSystem/pkg/metrics"
	"PluginSystem/pkg/plugin"
)

type fakeSource struct {
	mu     sync.Mutex
	states map[string]plugin.State
	order  []string
	panics atomic.Int32
	block  chan struct{}
}

func newFakeSource(states ...plugin.State) *fakeSource {
	s := &fakeSource{states: make(map[string]plugin.State)}
	for _, st := range states {
		s.set(st)
	}
	return s
}

func (s *fakeSource) set(st plugin.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[st.ID()]; !ok {
		s.order = append(s.order, st.ID())
	}
	s.states[st.ID()] = st
}

func (s *fakeSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *fakeSource) Get(id string) (plugin.State, bool) {
	if s.panics.Load() > 0 {
		s.panics.Add(-1)
		panic("source unavailable")
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok
}

func (s *fakeSource) All() []plugin.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]plugin.State, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.states[id])
	}
	return out
}

func state(id string, status plugin.Status) plugin.State {
	return plugin.State{
		Plugin: &plugin.Plugin{Metadata: plugin.Metadata{ID: id, Name: id, Version: "1.0.0"}},
		Status: status,
	}
}

func newTestManager(t *testing.T, src Source, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(src, cfg, append([]Option{WithLogger(logger.Nop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func fastConfig() Config {
	return Config{Interval: 10 * time.Millisecond, MaxRetries: 2, RetryDelay: time.Millisecond, Timeout: 50 * time.Millisecond, Workers: 2}
}

func TestCheckClassifiesStatus(t *testing.T) {
	failed := state("broken", plugin.StatusError)
	failed.Err = errors.New("init failed")
	src := newFakeSource(
		state("on", plugin.StatusEnabled),
		state("off", plugin.StatusDisabled),
		state("new", plugin.StatusInstalled),
		failed,
	)
	m := newTestManager(t, src, fastConfig())
	ctx := context.Background()

	assert.Equal(t, StatusHealthy, m.Check(ctx, "on").Status)
	assert.Equal(t, StatusDegraded, m.Check(ctx, "off").Status)
	assert.Equal(t, StatusDegraded, m.Check(ctx, "new").Status)

	res := m.Check(ctx, "broken")
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "init failed", res.Message)
	assert.Equal(t, 0, res.Retries)

	missing := m.Check(ctx, "ghost")
	assert.Equal(t, StatusUnhealthy, missing.Status)
	assert.Equal(t, "plugin not installed", missing.Message)
}

func TestCheckRetriesThenSucceeds(t *testing.T) {
	src := newFakeSource(state("on", plugin.StatusEnabled))
	src.panics.Store(2)
	m := newTestManager(t, src, fastConfig())

	res := m.Check(context.Background(), "on")
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, 2, res.Retries)
}

func TestCheckExhaustsRetries(t *testing.T) {
	src := newFakeSource(state("on", plugin.StatusEnabled))
	src.panics.Store(100)
	m := newTestManager(t, src, fastConfig())

	res := m.Check(context.Background(), "on")
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, 2, res.Retries)
	require.Error(t, res.Err)
	assert.Equal(t, xerrors.CodeRetriesExhausted, xerrors.CodeOf(res.Err))
	assert.Contains(t, res.Err.Error(), "source unavailable")
}

func TestCheckEnforcesTimeout(t *testing.T) {
	src := newFakeSource(state("slow", plugin.StatusEnabled))
	src.block = make(chan struct{})
	defer close(src.block)
	m := newTestManager(t, src, fastConfig())

	res := m.Check(context.Background(), "slow", WithTimeout(5*time.Millisecond), WithRetries(1, time.Millisecond))
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, 1, res.Retries)
	assert.True(t, errors.Is(res.Err, xerrors.New(xerrors.CodeRetriesExhausted, "")))
	assert.Contains(t, res.Err.Error(), "TIMEOUT")
}

func TestCheckAllKeepsSourceOrder(t *testing.T) {
	src := newFakeSource(
		state("c", plugin.StatusEnabled),
		state("a", plugin.StatusDisabled),
		state("b", plugin.StatusEnabled),
	)
	m := newTestManager(t, src, fastConfig())

	results := m.CheckAll(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, "c", results[0].PluginID)
	assert.Equal(t, "a", results[1].PluginID)
	assert.Equal(t, StatusDegraded, results[1].Status)
	assert.Equal(t, map[string]Status{"a": StatusDegraded, "b": StatusHealthy, "c": StatusHealthy}, m.Statuses())
}

func TestStatusDefaultsToUnknown(t *testing.T) {
	m := newTestManager(t, newFakeSource(), fastConfig())
	assert.Equal(t, StatusUnknown, m.Status("never"))
	assert.Empty(t, m.Statuses())
}

func TestPollNotifiesChanges(t *testing.T) {
	src := newFakeSource(state("p", plugin.StatusEnabled))
	m := newTestManager(t, src, fastConfig())
	ctx := context.Background()

	var changes []Change
	unsubscribe := m.OnHealthChange(func(_ context.Context, c Change) { changes = append(changes, c) })

	m.Poll(ctx)
	m.Poll(ctx)
	require.Len(t, changes, 1)
	assert.Equal(t, StatusUnknown, changes[0].Previous)
	assert.Equal(t, StatusHealthy, changes[0].Current)

	src.set(state("p", plugin.StatusDisabled))
	m.Poll(ctx)
	require.Len(t, changes, 2)
	assert.Equal(t, StatusHealthy, changes[1].Previous)
	assert.Equal(t, StatusDegraded, changes[1].Current)

	src.remove("p")
	m.Poll(ctx)
	assert.Equal(t, StatusUnknown, m.Status("p"))

	unsubscribe()
	src.set(state("p", plugin.StatusEnabled))
	m.Poll(ctx)
	assert.Len(t, changes, 2)
}

func TestStartStop(t *testing.T) {
	src := newFakeSource(state("p", plugin.StatusEnabled))
	m := newTestManager(t, src, fastConfig())

	notified := make(chan Change, 8)
	m.OnHealthChange(func(_ context.Context, c Change) { notified <- c })

	m.Start(context.Background())
	m.Start(context.Background())

	select {
	case c := <-notified:
		assert.Equal(t, "p", c.PluginID)
	case <-time.After(time.Second):
		t.Fatal("no health change observed")
	}

	m.Stop()
	m.Stop()
	assert.Equal(t, StatusHealthy, m.Status("p"))
}

func TestHandlerPanicDoesNotStopNotification(t *testing.T) {
	src := newFakeSource(state("p", plugin.StatusEnabled))
	m := newTestManager(t, src, fastConfig())
	var called atomic.Bool
	m.OnHealthChange(func(context.Context, Change) { panic("handler bug") })
	m.OnHealthChange(func(context.Context, Change) { called.Store(true) })

	m.Poll(context.Background())
	assert.True(t, called.Load())
}

func TestErrorHistoryDoesNotChangeStatus(t *testing.T) {
	collector := metrics.NewCollector()
	collector.RecordError("p")
	src := newFakeSource(state("p", plugin.StatusEnabled), state("q", plugin.StatusEnabled))
	m := newTestManager(t, src, fastConfig(), WithMetrics(collector))
	ctx := context.Background()

	res := m.Check(ctx, "p")
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Empty(t, res.Message)
	assert.False(t, res.ErrorHistoryHealthy)

	assert.True(t, m.Check(ctx, "q").ErrorHistoryHealthy)
}

func TestErrorHistoryHealthyWithoutCollector(t *testing.T) {
	m := newTestManager(t, newFakeSource(state("p", plugin.StatusEnabled)), fastConfig())
	assert.True(t, m.Check(context.Background(), "p").ErrorHistoryHealthy)
}

func TestNonPositiveTimeoutKeepsConfigured(t *testing.T) {
	src := newFakeSource(state("p", plugin.StatusEnabled))
	m := newTestManager(t, src, fastConfig())
	ctx := context.Background()

	for _, d := range []time.Duration{0, -time.Second} {
		for i := 0; i < 20; i++ {
			res := m.Check(ctx, "p", WithTimeout(d), WithRetries(0, time.Millisecond))
			require.Equal(t, StatusHealthy, res.Status, "timeout %s", d)
		}
	}
}

func TestPollBaselineIgnoresAdHocChecks(t *testing.T) {
	src := newFakeSource(state("p", plugin.StatusEnabled))
	m := newTestManager(t, src, fastConfig())
	ctx := context.Background()

	var changes []Change
	m.OnHealthChange(func(_ context.Context, c Change) { changes = append(changes, c) })

	m.Poll(ctx)
	require.Len(t, changes, 1)

	src.set(state("p", plugin.StatusDisabled))
	assert.Equal(t, StatusDegraded, m.Check(ctx, "p").Status)

	m.Poll(ctx)
	require.Len(t, changes, 2)
	assert.Equal(t, StatusHealthy, changes[1].Previous)
	assert.Equal(t, StatusDegraded, changes[1].Current)
}

func TestNewManagerRequiresSource(t *testing.T) {
	_, err := NewManager(nil, Config{})
	assert.Error(t, err)
}
