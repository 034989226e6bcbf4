package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// The functions below compute the next registry entry for a lifecycle
// operation. They do not touch the manager; it commits their result.

// checkInstall rejects p when it cannot join reg. It never mutates reg.
func checkInstall(reg Registry, p *Plugin, maxPlugins int) error {
	id := p.ID()
	if reg.Has(id) {
		return newError(CodeAlreadyInstalled, "plugin %s is already installed", id)
	}
	if maxPlugins > 0 && reg.Count() >= maxPlugins {
		return newError(CodeLimitExceeded, "cannot install plugin %s: limit of %d plugins reached", id, maxPlugins)
	}
	graph := BuildDependencyGraph(append(reg.Plugins(), p))
	for _, cycle := range DetectCircularDependencies(graph) {
		if indexOf(cycle, id) >= 0 {
			return newError(CodeCircularDependency, "plugin %s introduces a circular dependency: %s", id, strings.Join(append(cycle, cycle[0]), " -> "))
		}
	}
	if problems := ResolveDependencies([]*Plugin{p}, reg); len(problems) > 0 {
		return newError(CodeDependency, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// checkUpdate rejects next when swapping it in for the installed definition
// of the same id would close a dependency cycle.
func checkUpdate(reg Registry, next *Plugin) error {
	id := next.ID()
	graph := BuildDependencyGraph(append(reg.Without(id).Plugins(), next))
	for _, cycle := range DetectCircularDependencies(graph) {
		if indexOf(cycle, id) >= 0 {
			return newError(CodeCircularDependency, "update of plugin %s introduces a circular dependency: %s", id, strings.Join(append(cycle, cycle[0]), " -> "))
		}
	}
	return nil
}

func installedState(p *Plugin, now time.Time) State {
	return State{Plugin: p, Status: StatusInstalled, InstalledAt: now}
}

// enabledState keeps EnabledAt when the plugin is already enabled.
func enabledState(s State, now time.Time) State {
	if s.Status != StatusEnabled || s.EnabledAt.IsZero() {
		s.EnabledAt = now
	}
	s.Status = StatusEnabled
	s.Err = nil
	return s
}

func failedState(s State, err error) State {
	s.Status = StatusError
	s.Err = err
	s.EnabledAt = time.Time{}
	return s
}

func disabledState(s State) State {
	s.Status = StatusDisabled
	s.EnabledAt = time.Time{}
	s.Err = nil
	return s
}

// updatedState swaps the definition and keeps the rest of the entry.
func updatedState(s State, next *Plugin) State {
	s.Plugin = next
	return s
}

// runHook calls hook when present. A panic is returned as an error.
func runHook(ctx context.Context, hook func(context.Context) error) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx)
}

func runInit(ctx context.Context, p *Plugin, api API) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Init(ctx, api)
}

func updateHook(p *Plugin, oldVersion string) func(context.Context) error {
	if p.Hooks.OnUpdate == nil {
		return nil
	}
	return func(ctx context.Context) error { return p.Hooks.OnUpdate(ctx, oldVersion) }
}
