package plugin

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moby/locker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xerrors "PluginSystem/internal/errors"
	"PluginSystem/pkg/event"
	"PluginSystem/pkg/logger"
	"PluginSystem/pkg/metrics"
)

const tracerName = "PluginSystem/pkg/plugin"

// Manager keeps track of installed plugins and orchestrates their lifecycle.
//
// The registry is replaced atomically on every change, so readers never
// block and never observe a partial update. Lifecycle operations on the same
// plugin id are serialized. Event handlers run synchronously inside the
// operation that emitted the event and must not call back into a lifecycle
// operation for the same id.
type Manager struct {
	registry  atomic.Pointer[Registry]
	commitMu  sync.Mutex
	installMu sync.Mutex
	locks     *locker.Locker

	maxPlugins   int
	enableOnLoad bool
	config       ManagerConfig

	loader    Loader
	emitter   *event.Emitter
	collector *metrics.Collector
	handlers  *handlerTable

	scopesMu sync.Mutex
	scopes   map[string]*scope

	log    *slog.Logger
	audit  *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewManager constructs a manager using the supplied configuration and options.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		locks:        locker.New(),
		maxPlugins:   cfg.MaxPlugins,
		enableOnLoad: cfg.EnableOnLoad,
		config:       cfg,
		loader:       GoPluginLoader{},
		emitter:      event.NewEmitter(),
		handlers:     newHandlerTable(),
		scopes:       make(map[string]*scope),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Named("plugin-manager")
	}
	if m.audit == nil {
		m.audit = logger.Audit()
	}
	empty := NewRegistry()
	m.registry.Store(&empty)
	return m, nil
}

// Install validates p, checks it against the installed plugins and adds it
// with status installed. The install hook runs after the entry is added; if
// it fails the entry is removed again.
func (m *Manager) Install(ctx context.Context, p *Plugin) error {
	if err := p.Validate(); err != nil {
		return err
	}
	id := p.ID()
	return m.observe(ctx, "install", id, func(ctx context.Context) error {
		m.locks.Lock(id)
		defer m.locks.Unlock(id)
		return m.installLocked(ctx, p)
	})
}

func (m *Manager) installLocked(ctx context.Context, p *Plugin) error {
	id := p.ID()
	start := m.now()

	m.installMu.Lock()
	reg := m.Registry()
	if err := checkInstall(reg, p, m.maxPlugins); err != nil {
		m.installMu.Unlock()
		return err
	}
	state := installedState(p, start)
	m.commit(func(r Registry) Registry { return r.With(state) })
	m.installMu.Unlock()

	for _, warning := range versionMismatches(p, reg) {
		m.log.Warn("dependency version mismatch", slog.String("plugin_id", id), slog.String("detail", warning))
	}

	if err := runHook(ctx, p.Hooks.OnInstall); err != nil {
		m.commit(func(r Registry) Registry { return r.Without(id) })
		wrapped := wrapError(CodeHookFailed, err, "plugin %s install hook failed", id)
		m.emitError(ctx, id, "install", wrapped)
		if m.collector != nil {
			m.collector.Remove(id)
		}
		return wrapped
	}

	if m.collector != nil {
		m.collector.RecordLoad(id, m.now().Sub(start))
	}
	m.emit(ctx, event.TypeInstalled, id, map[string]any{"version": p.Version()})

	if m.enableOnLoad {
		return m.enableLocked(ctx, id)
	}
	return nil
}

// Enable runs the plugin's init function with a fresh API and then its
// enable hook. Enabling an enabled plugin is a no-op. On failure the plugin
// stays installed with status error.
func (m *Manager) Enable(ctx context.Context, id string) error {
	return m.observe(ctx, "enable", id, func(ctx context.Context) error {
		m.locks.Lock(id)
		defer m.locks.Unlock(id)
		return m.enableLocked(ctx, id)
	})
}

func (m *Manager) enableLocked(ctx context.Context, id string) error {
	state, ok := m.Registry().Get(id)
	if !ok {
		return notInstalled(id)
	}
	if state.Status == StatusEnabled {
		return nil
	}

	start := m.now()
	sc := newScope(id, m.handlers, m.emitter)
	var err error
	if initErr := runInit(ctx, state.Plugin, sc); initErr != nil {
		err = wrapError(CodeInitFailed, initErr, "plugin %s init failed", id)
	} else if hookErr := runHook(ctx, state.Plugin.Hooks.OnEnable); hookErr != nil {
		err = wrapError(CodeHookFailed, hookErr, "plugin %s enable hook failed", id)
	}
	if err != nil {
		sc.revoke()
		next := failedState(state, err)
		m.commit(func(r Registry) Registry { return r.With(next) })
		m.emitError(ctx, id, "enable", err)
		return err
	}

	m.swapScope(id, sc)
	next := enabledState(state, m.now())
	m.commit(func(r Registry) Registry { return r.With(next) })
	if m.collector != nil {
		m.collector.RecordInit(id, m.now().Sub(start))
	}
	m.emit(ctx, event.TypeEnabled, id, nil)
	return nil
}

// Disable runs the disable hook and marks the plugin disabled. Disabling a
// plugin that is not enabled is a no-op. If the hook fails the status is
// left unchanged.
func (m *Manager) Disable(ctx context.Context, id string) error {
	return m.observe(ctx, "disable", id, func(ctx context.Context) error {
		m.locks.Lock(id)
		defer m.locks.Unlock(id)
		return m.disableLocked(ctx, id)
	})
}

func (m *Manager) disableLocked(ctx context.Context, id string) error {
	state, ok := m.Registry().Get(id)
	if !ok {
		return notInstalled(id)
	}
	if state.Status != StatusEnabled {
		return nil
	}
	if err := runHook(ctx, state.Plugin.Hooks.OnDisable); err != nil {
		wrapped := wrapError(CodeHookFailed, err, "plugin %s disable hook failed", id)
		m.emitError(ctx, id, "disable", wrapped)
		return wrapped
	}

	m.swapScope(id, nil)
	next := disabledState(state)
	m.commit(func(r Registry) Registry { return r.With(next) })
	if m.collector != nil {
		m.collector.MarkDisabled(id)
	}
	m.emit(ctx, event.TypeDisabled, id, nil)
	return nil
}

// Update replaces the definition of an installed plugin with next. An
// enabled plugin is disabled first and enabled again afterwards; a failure
// while re-enabling is returned but the new definition stays in place.
func (m *Manager) Update(ctx context.Context, id string, next *Plugin) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if next.ID() != id {
		return newError(CodeInvalid, "plugin id mismatch: %s != %s", next.ID(), id)
	}
	return m.observe(ctx, "update", id, func(ctx context.Context) error {
		m.locks.Lock(id)
		defer m.locks.Unlock(id)
		return m.updateLocked(ctx, id, next)
	})
}

func (m *Manager) updateLocked(ctx context.Context, id string, next *Plugin) error {
	state, ok := m.Registry().Get(id)
	if !ok {
		return notInstalled(id)
	}
	oldVersion := state.Plugin.Version()
	newVersion := next.Version()
	if newVersion == oldVersion {
		return newError(CodeSameVersion, "plugin %s is already at version %s", id, oldVersion)
	}

	m.installMu.Lock()
	err := checkUpdate(m.Registry(), next)
	m.installMu.Unlock()
	if err != nil {
		return err
	}

	wasEnabled := state.Status == StatusEnabled
	if wasEnabled {
		if err := m.disableLocked(ctx, id); err != nil {
			return err
		}
	}

	if err := runHook(ctx, updateHook(next, oldVersion)); err != nil {
		wrapped := wrapError(CodeHookFailed, err, "plugin %s update hook failed", id)
		m.emitError(ctx, id, "update", wrapped)
		return wrapped
	}

	if CompareVersions(newVersion, oldVersion) < 0 {
		m.log.Warn("plugin downgraded", slog.String("plugin_id", id), slog.String("from", oldVersion), slog.String("to", newVersion))
	}
	current, _ := m.Registry().Get(id)
	swapped := updatedState(current, next)
	m.commit(func(r Registry) Registry { return r.With(swapped) })
	m.emit(ctx, event.TypeUpdated, id, map[string]any{"oldVersion": oldVersion, "newVersion": newVersion})

	if wasEnabled {
		return m.enableLocked(ctx, id)
	}
	return nil
}

// Uninstall disables the plugin if needed, runs its uninstall hook and
// removes it. If a hook fails the plugin stays installed.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	return m.observe(ctx, "uninstall", id, func(ctx context.Context) error {
		m.locks.Lock(id)
		defer m.locks.Unlock(id)
		return m.uninstallLocked(ctx, id)
	})
}

func (m *Manager) uninstallLocked(ctx context.Context, id string) error {
	state, ok := m.Registry().Get(id)
	if !ok {
		return notInstalled(id)
	}
	if dependents := m.dependents(id); len(dependents) > 0 {
		m.log.Warn("uninstalling plugin with dependents", slog.String("plugin_id", id), slog.Any("dependents", dependents))
	}
	if state.Status == StatusEnabled {
		if err := m.disableLocked(ctx, id); err != nil {
			return err
		}
	}
	if err := runHook(ctx, state.Plugin.Hooks.OnUninstall); err != nil {
		wrapped := wrapError(CodeHookFailed, err, "plugin %s uninstall hook failed", id)
		m.emitError(ctx, id, "uninstall", wrapped)
		return wrapped
	}

	m.swapScope(id, nil)
	m.commit(func(r Registry) Registry { return r.Without(id) })
	if m.collector != nil {
		m.collector.Remove(id)
	}
	m.emit(ctx, event.TypeUninstalled, id, map[string]any{"version": state.Plugin.Version()})
	return nil
}

// Load reads a plugin binary through the configured loader and installs it.
func (m *Manager) Load(ctx context.Context, path string) error {
	p, err := m.loader.Load(path)
	if err != nil {
		return wrapError(CodeInvalid, err, "load plugin from %s", path)
	}
	return m.Install(ctx, p)
}

// LoadConfigured loads every enabled plugin listed in the manager
// configuration. Paths are relative to PluginDir.
func (m *Manager) LoadConfigured(ctx context.Context) error {
	ids := make([]string, 0, len(m.config.Plugins))
	for id, pc := range m.config.Plugins {
		if pc.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var plugins []*Plugin
	for _, id := range ids {
		path := m.config.Plugins[id].Path
		if !filepath.IsAbs(path) && m.config.PluginDir != "" {
			path = filepath.Join(m.config.PluginDir, path)
		}
		p, err := m.loader.Load(path)
		if err != nil {
			return wrapError(CodeInvalid, err, "load plugin %s from %s", id, path)
		}
		if p.ID() != id {
			return newError(CodeInvalid, "plugin id mismatch: %s != %s", p.ID(), id)
		}
		plugins = append(plugins, p)
	}
	for _, p := range LoadOrder(plugins) {
		if err := m.Install(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// EnableAll enables every installed plugin in dependency order and returns
// the joined errors of the plugins that failed.
func (m *Manager) EnableAll(ctx context.Context) error {
	var errs []error
	for _, p := range m.LoadOrder() {
		if err := m.Enable(ctx, p.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DisableAll disables every enabled plugin in reverse dependency order.
func (m *Manager) DisableAll(ctx context.Context) error {
	order := m.LoadOrder()
	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.Disable(ctx, order[i].ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry returns the current registry snapshot.
func (m *Manager) Registry() Registry {
	return *m.registry.Load()
}

// Get returns the state of id with its collected metrics attached.
func (m *Manager) Get(id string) (State, bool) {
	s, ok := m.Registry().Get(id)
	if !ok {
		return State{}, false
	}
	return m.withMetrics(s), true
}

// All returns every installed plugin.
func (m *Manager) All() []State { return m.withMetricsAll(m.Registry().All()) }

// Enabled returns the enabled plugins.
func (m *Manager) Enabled() []State { return m.withMetricsAll(m.Registry().Enabled()) }

// Disabled returns the disabled plugins.
func (m *Manager) Disabled() []State { return m.withMetricsAll(m.Registry().Disabled()) }

// Has reports whether id is installed.
func (m *Manager) Has(id string) bool { return m.Registry().Has(id) }

// Count returns the number of installed plugins.
func (m *Manager) Count() int { return m.Registry().Count() }

// LoadOrder returns the installed plugins in dependency order.
func (m *Manager) LoadOrder() []*Plugin { return LoadOrder(m.Registry().Plugins()) }

// Emitter returns the emitter lifecycle events are published on.
func (m *Manager) Emitter() *event.Emitter { return m.emitter }

// Handler returns the handler registered under name by an enabled plugin.
func (m *Manager) Handler(name string) (Handler, bool) { return m.handlers.lookup(name) }

// Handlers maps every registered handler name to the plugin that owns it.
func (m *Manager) Handlers() map[string]string { return m.handlers.names() }

// PluginHandlers lists the handler names registered by id.
func (m *Manager) PluginHandlers(id string) []string {
	m.scopesMu.Lock()
	sc := m.scopes[id]
	m.scopesMu.Unlock()
	if sc == nil {
		return nil
	}
	return sc.registered()
}

func (m *Manager) commit(fn func(Registry) Registry) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	next := fn(*m.registry.Load())
	m.registry.Store(&next)
}

// swapScope installs sc as the live API of id and revokes the previous one.
func (m *Manager) swapScope(id string, sc *scope) {
	m.scopesMu.Lock()
	prev := m.scopes[id]
	if sc == nil {
		delete(m.scopes, id)
	} else {
		m.scopes[id] = sc
	}
	m.scopesMu.Unlock()
	if prev != nil && prev != sc {
		prev.revoke()
	}
}

func (m *Manager) dependents(id string) []string {
	var out []string
	for _, s := range m.Registry().All() {
		for _, d := range s.Plugin.Dependencies {
			if d.ID == id && !d.Optional {
				out = append(out, s.ID())
				break
			}
		}
	}
	return out
}

func (m *Manager) withMetrics(s State) State {
	if m.collector == nil {
		return s
	}
	if mt, ok := m.collector.Metrics(s.ID()); ok {
		s.Metrics = &mt
	}
	return s
}

func (m *Manager) withMetricsAll(states []State) []State {
	for i := range states {
		states[i] = m.withMetrics(states[i])
	}
	return states
}

// emit publishes a lifecycle event. Handler failures are logged and do not
// fail the operation that triggered the event.
func (m *Manager) emit(ctx context.Context, t event.Type, id string, data map[string]any) {
	if err := m.emitter.Emit(ctx, event.New(t, id, data)); err != nil {
		m.log.Warn("event handler failed", slog.String("event", string(t)), slog.String("plugin_id", id), slog.Any("error", err))
	}
}

func (m *Manager) emitError(ctx context.Context, id, operation string, err error) {
	if m.collector != nil {
		m.collector.RecordError(id)
	}
	m.emit(ctx, event.TypeError, id, map[string]any{
		"operation": operation,
		"error":     err.Error(),
		"code":      string(xerrors.CodeOf(err)),
	})
}

func (m *Manager) observe(ctx context.Context, operation, id string, fn func(context.Context) error) error {
	ctx, span := m.tracer.Start(ctx, "plugin."+operation, trace.WithAttributes(attribute.String("plugin.id", id)))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.log.Warn("plugin operation failed", slog.String("operation", operation), slog.String("plugin_id", id), slog.Any("error", err))
		m.audit.Warn("plugin."+operation, slog.String("plugin_id", id), slog.String("result", "failure"), slog.String("error", err.Error()))
		return err
	}
	m.log.Debug("plugin operation completed", slog.String("operation", operation), slog.String("plugin_id", id))
	m.audit.Info("plugin."+operation, slog.String("plugin_id", id), slog.String("result", "success"))
	return nil
}

func notInstalled(id string) error {
	return newError(CodeNotInstalled, "plugin %s is not installed", id)
}
