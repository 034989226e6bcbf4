// Package health classifies installed plugins as healthy, degraded or
// unhealthy and polls them on an interval, notifying subscribers when a
// plugin's classification changes.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"

	xerrors "PluginSystem/internal/errors"
	"PluginSystem/pkg/logger"
	"PluginSystem/pkg/metrics"
	"PluginSystem/pkg/plugin"
)

// Status is the health classification of a plugin.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Result is the outcome of one check.
type Result struct {
	PluginID  string        `json:"pluginId"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Err       error         `json:"-"`
	Retries   int           `json:"retries"`
	CheckedAt time.Time     `json:"checkedAt"`
	Duration  time.Duration `json:"duration"`

	// ErrorHistoryHealthy is the metrics collector's verdict on the
	// plugin's recent errors. It does not affect Status.
	ErrorHistoryHealthy bool `json:"errorHistoryHealthy"`
}

// Change describes a status transition observed between two polls.
type Change struct {
	PluginID string
	Previous Status
	Current  Status
	Result   Result
}

// ChangeHandler is called for every transition.
type ChangeHandler func(ctx context.Context, change Change)

// Source exposes the plugin states to inspect. *plugin.Manager implements it.
type Source interface {
	Get(id string) (plugin.State, bool)
	All() []plugin.State
}

// Config controls polling and retries.
type Config struct {
	Interval   time.Duration `json:"interval"`
	MaxRetries int           `json:"maxRetries"`
	RetryDelay time.Duration `json:"retryDelay"`
	Timeout    time.Duration `json:"timeout"`
	Workers    int           `json:"workers"`
}

const (
	defaultInterval   = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultTimeout    = 5 * time.Second
	defaultWorkers    = 8
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	return c
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics fills Result.ErrorHistoryHealthy from collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) { m.collector = collector }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager runs health checks against a Source.
type Manager struct {
	source    Source
	cfg       Config
	log       *slog.Logger
	collector *metrics.Collector
	pool      *ants.Pool
	now       func() time.Time

	mu       sync.RWMutex
	results  map[string]Result
	polled   map[string]Status
	handlers map[int]ChangeHandler
	nextID   int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a health manager. Call Close to release its worker pool.
func NewManager(source Source, cfg Config, opts ...Option) (*Manager, error) {
	if source == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "health source cannot be nil")
	}
	cfg = cfg.withDefaults()
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create health worker pool")
	}
	m := &Manager{
		source:   source,
		cfg:      cfg,
		pool:     pool,
		now:      time.Now,
		results:  make(map[string]Result),
		polled:   make(map[string]Status),
		handlers: make(map[int]ChangeHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Named("health")
	}
	return m, nil
}

// CheckOption overrides the configured retry and timeout settings for one check.
type CheckOption func(*Config)

// WithTimeout bounds a single attempt. A non-positive d keeps the
// configured timeout.
func WithTimeout(d time.Duration) CheckOption {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithRetries sets the number of retries and the delay between them.
func WithRetries(n int, delay time.Duration) CheckOption {
	return func(c *Config) {
		c.MaxRetries = n
		c.RetryDelay = delay
	}
}

// Check classifies id. An attempt that fails or exceeds the timeout is
// retried up to MaxRetries times with a fixed delay; once retries are
// exhausted the plugin is reported unhealthy with the last error.
func (m *Manager) Check(ctx context.Context, id string, opts ...CheckOption) Result {
	cfg := m.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = m.cfg.Timeout
	}

	start := m.now()
	attempts := 0
	var res Result
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryDelay), uint64(cfg.MaxRetries)),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		attempts++
		r, err := m.attempt(ctx, id, cfg.Timeout)
		if err != nil {
			return err
		}
		res = r
		return nil
	}, policy, func(err error, wait time.Duration) {
		m.log.Debug("health check attempt failed", slog.String("plugin_id", id), slog.Duration("retry_in", wait), slog.Any("error", err))
	})
	if err != nil {
		res = Result{
			PluginID: id,
			Status:   StatusUnhealthy,
			Message:  fmt.Sprintf("health check failed after %d retries", attempts-1),
			Err:      xerrors.Wrap(xerrors.CodeRetriesExhausted, err, "health check for "+id),
		}
	}
	res.Retries = attempts - 1
	res.ErrorHistoryHealthy = m.collector == nil || m.collector.CheckHealth(id)
	res.CheckedAt = start
	res.Duration = m.now().Sub(start)

	m.mu.Lock()
	m.results[id] = res
	m.mu.Unlock()
	return res
}

// attempt runs one classification bounded by timeout. A panic in the source
// counts as a failed attempt.
func (m *Manager) attempt(ctx context.Context, id string, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("health check panicked: %v", r)}
			}
		}()
		state, ok := m.source.Get(id)
		ch <- outcome{res: m.classify(id, state, ok)}
	}()

	select {
	case out := <-ch:
		return out.res, out.err
	case <-ctx.Done():
		return Result{}, xerrors.Wrapf(xerrors.CodeTimeout, ctx.Err(), "health check for %s exceeded %s", id, timeout)
	}
}

func (m *Manager) classify(id string, state plugin.State, ok bool) Result {
	res := Result{PluginID: id}
	switch {
	case !ok:
		res.Status = StatusUnhealthy
		res.Message = "plugin not installed"
	case state.Status == plugin.StatusError:
		res.Status = StatusUnhealthy
		res.Err = state.Err
		if state.Err != nil {
			res.Message = state.Err.Error()
		} else {
			res.Message = "plugin in error state"
		}
	case state.Status == plugin.StatusEnabled:
		res.Status = StatusHealthy
	default:
		res.Status = StatusDegraded
		res.Message = "plugin is " + string(state.Status)
	}
	return res
}

// CheckAll checks every installed plugin concurrently and returns the
// results in registry order.
func (m *Manager) CheckAll(ctx context.Context) []Result {
	states := m.source.All()
	results := make([]Result, len(states))
	var wg sync.WaitGroup
	for i, s := range states {
		i, id := i, s.ID()
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = m.Check(ctx, id)
		}
		if err := m.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
	return results
}

// OnHealthChange registers handler and returns a function removing it.
func (m *Manager) OnHealthChange(handler ChangeHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

// Status returns the last known status of id, or StatusUnknown.
func (m *Manager) Status(id string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.results[id]; ok {
		return r.Status
	}
	return StatusUnknown
}

// Statuses returns the last known status of every checked plugin.
func (m *Manager) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.results))
	for id, r := range m.results {
		out[id] = r.Status
	}
	return out
}

// Results returns the last result of every checked plugin ordered by id.
func (m *Manager) Results() []Result {
	m.mu.RLock()
	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

// Start begins polling every Interval. It is a no-op if already running.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Poll(ctx)
			}
		}
	}()
	m.log.Info("health polling started", slog.Duration("interval", m.cfg.Interval))
}

// Stop halts polling and waits for an in-flight poll to finish. It is safe
// to call more than once.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	m.log.Info("health polling stopped")
}

// Close stops polling and releases the worker pool.
func (m *Manager) Close() {
	m.Stop()
	m.pool.Release()
}

// Poll runs one CheckAll and notifies subscribers of every plugin whose
// status differs from the previous poll. Ad-hoc Check calls do not move the
// baseline. Results of plugins that are no longer installed are dropped.
func (m *Manager) Poll(ctx context.Context) []Result {
	results := m.CheckAll(ctx)

	present := make(map[string]struct{}, len(results))
	var changes []Change
	m.mu.Lock()
	for _, r := range results {
		present[r.PluginID] = struct{}{}
		before, ok := m.polled[r.PluginID]
		if !ok {
			before = StatusUnknown
		}
		if before != r.Status {
			changes = append(changes, Change{PluginID: r.PluginID, Previous: before, Current: r.Status, Result: r})
		}
		m.polled[r.PluginID] = r.Status
	}
	for id := range m.results {
		if _, ok := present[id]; !ok {
			delete(m.results, id)
		}
	}
	for id := range m.polled {
		if _, ok := present[id]; !ok {
			delete(m.polled, id)
		}
	}
	handlers := make([]ChangeHandler, 0, len(m.handlers))
	keys := make([]int, 0, len(m.handlers))
	for k := range m.handlers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		handlers = append(handlers, m.handlers[k])
	}
	m.mu.Unlock()

	for _, c := range changes {
		m.log.Info("plugin health changed", slog.String("plugin_id", c.PluginID), slog.String("from", string(c.Previous)), slog.String("to", string(c.Current)))
		for _, h := range handlers {
			m.notify(ctx, h, c)
		}
	}
	return results
}

func (m *Manager) notify(ctx context.Context, h ChangeHandler, c Change) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("health change handler panicked", slog.String("plugin_id", c.PluginID), slog.Any("panic", r))
		}
	}()
	h(ctx, c)
}
