package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"
)

// Loader resolves plugin binaries into Plugin definitions.
type Loader interface {
	Load(path string) (*Plugin, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (*Plugin, error)

// Load calls f.
func (f LoaderFunc) Load(path string) (*Plugin, error) { return f(path) }

// GoPluginLoader uses the Go standard library plugin mechanism to dynamically load modules.
type GoPluginLoader struct{}

// Load opens the shared object and looks up a `Plugin` symbol of type
// Plugin, *Plugin or func() *Plugin.
func (GoPluginLoader) Load(path string) (*Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, err
	}
	var p *Plugin
	switch s := symbol.(type) {
	case *Plugin:
		p = s
	case **Plugin:
		if s != nil {
			p = *s
		}
	case func() *Plugin:
		p = s()
	case *func() *Plugin:
		if s != nil && *s != nil {
			p = (*s)()
		}
	default:
		return nil, fmt.Errorf("plugin symbol in %s has unsupported type %T", path, symbol)
	}
	if p == nil {
		return nil, fmt.Errorf("plugin symbol in %s is nil", path)
	}
	return p, nil
}
