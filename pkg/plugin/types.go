package plugin

import (
	"context"
	"time"

	"PluginSystem/pkg/metrics"
)

// Priority is an informational scheduling hint declared by a plugin.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Metadata contains descriptive information for a plugin. ID is the identity
// key for the whole system.
type Metadata struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Version     string   `yaml:"version" json:"version"`
	Description string   `yaml:"description" json:"description"`
	Author      string   `yaml:"author" json:"author"`
	Homepage    string   `yaml:"homepage,omitempty" json:"homepage,omitempty"`
	Repository  string   `yaml:"repository,omitempty" json:"repository,omitempty"`
	License     string   `yaml:"license,omitempty" json:"license,omitempty"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Dependency references another plugin by id. The target does not need to be
// installed when the dependency is declared.
type Dependency struct {
	ID       string `yaml:"id" json:"id"`
	Version  string `yaml:"version" json:"version"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Capabilities are hints stored with the plugin and not enforced.
type Capabilities struct {
	HotReload bool     `yaml:"hotReload" json:"hotReload"`
	Sandboxed bool     `yaml:"sandboxed" json:"sandboxed"`
	Priority  Priority `yaml:"priority" json:"priority"`
}

// Hooks are optional lifecycle callbacks. A nil field is simply skipped; a
// returned error aborts the operation that triggered the hook.
type Hooks struct {
	OnInstall   func(ctx context.Context) error
	OnEnable    func(ctx context.Context) error
	OnDisable   func(ctx context.Context) error
	OnUninstall func(ctx context.Context) error
	OnUpdate    func(ctx context.Context, oldVersion string) error
}

// InitFunc is the plugin entry point. It runs on every enable and receives an
// API scoped to the plugin.
type InitFunc func(ctx context.Context, api API) error

// Plugin is the immutable definition of an installable unit.
type Plugin struct {
	Metadata     Metadata
	Dependencies []Dependency
	Capabilities *Capabilities
	Hooks        Hooks
	Init         InitFunc
}

// ID is shorthand for p.Metadata.ID.
func (p *Plugin) ID() string { return p.Metadata.ID }

// Version is shorthand for p.Metadata.Version.
func (p *Plugin) Version() string { return p.Metadata.Version }

// Validate checks the definition before it is accepted by the manager.
func (p *Plugin) Validate() error {
	if p == nil {
		return newError(CodeInvalid, "plugin cannot be nil")
	}
	id := p.Metadata.ID
	if id == "" {
		return newError(CodeInvalid, "plugin id cannot be empty")
	}
	if p.Metadata.Name == "" {
		return newError(CodeInvalid, "plugin %s name cannot be empty", id)
	}
	if !ValidVersion(p.Metadata.Version) {
		return newError(CodeInvalid, "plugin %s has invalid version %q", id, p.Metadata.Version)
	}
	if p.Init == nil {
		return newError(CodeInvalid, "plugin %s has no init function", id)
	}
	for _, dep := range p.Dependencies {
		if dep.ID == "" {
			return newError(CodeInvalid, "plugin %s declares a dependency without id", id)
		}
	}
	if p.Capabilities != nil {
		switch p.Capabilities.Priority {
		case "", PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		default:
			return newError(CodeInvalid, "plugin %s has unknown priority %q", id, p.Capabilities.Priority)
		}
	}
	return nil
}

// Status is the lifecycle position of an installed plugin.
type Status string

const (
	StatusInstalled Status = "installed"
	StatusEnabled   Status = "enabled"
	StatusDisabled  Status = "disabled"
	StatusError     Status = "error"
)

// State is the registry entry of an installed plugin. EnabledAt is zero
// unless the plugin has been enabled since its last disable. Err is only set
// while Status is StatusError.
type State struct {
	Plugin      *Plugin
	Status      Status
	InstalledAt time.Time
	EnabledAt   time.Time
	Err         error
	Metrics     *metrics.Metrics
}

// ID returns the id of the wrapped plugin.
func (s State) ID() string {
	if s.Plugin == nil {
		return ""
	}
	return s.Plugin.Metadata.ID
}
