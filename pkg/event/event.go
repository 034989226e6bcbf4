// Package event implements the pub/sub bus the plugin manager publishes
// lifecycle notifications on. Handlers for a type run concurrently and Emit
// joins them, returning the first handler error.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type names an event. Lifecycle types are predefined; plugins may emit any
// other type through their API.
type Type string

const (
	TypeInstalled   Type = "plugin:installed"
	TypeEnabled     Type = "plugin:enabled"
	TypeDisabled    Type = "plugin:disabled"
	TypeUninstalled Type = "plugin:uninstalled"
	TypeUpdated     Type = "plugin:updated"
	TypeError       Type = "plugin:error"
)

// LifecycleTypes returns every type emitted by the plugin manager.
func LifecycleTypes() []Type {
	return []Type{TypeInstalled, TypeEnabled, TypeDisabled, TypeUninstalled, TypeUpdated, TypeError}
}

// Event is a single notification.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	PluginID  string         `json:"pluginId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with a fresh id and the current time.
func New(t Type, pluginID string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		PluginID:  pluginID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
