package plugin

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"PluginSystem/pkg/event"
)

// Handler is a named function a plugin exposes to the host.
type Handler func(ctx context.Context, args ...any) (any, error)

// API is the capability surface handed to a plugin's Init. Every
// registration made through it belongs to the plugin and is revoked when the
// plugin is disabled or uninstalled.
type API interface {
	// PluginID returns the id of the plugin the API was issued to.
	PluginID() string
	// Register exposes handler under name. Names are global; registering a
	// name owned by another plugin fails.
	Register(name string, handler Handler) error
	// Unregister removes a handler previously registered by this plugin.
	Unregister(name string)
	// Emit publishes an event of the given type on behalf of the plugin.
	Emit(ctx context.Context, eventType string, data map[string]any) error
	// On subscribes to events of the given type.
	On(eventType string, handler event.Handler)
}

type handlerEntry struct {
	owner   string
	handler Handler
}

// handlerTable is the host-side registry of plugin handlers.
type handlerTable struct {
	mu      sync.RWMutex
	entries map[string]handlerEntry
}

func newHandlerTable() *handlerTable {
	return &handlerTable{entries: make(map[string]handlerEntry)}
}

func (t *handlerTable) register(owner, name string, h Handler) error {
	if name == "" {
		return newError(CodeInvalid, "handler name cannot be empty")
	}
	if h == nil {
		return newError(CodeInvalid, "handler %s cannot be nil", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[name]; ok && existing.owner != owner {
		return newError(CodeHandlerRegistration, "handler %s is already registered by plugin %s", name, existing.owner)
	}
	t.entries[name] = handlerEntry{owner: owner, handler: h}
	return nil
}

func (t *handlerTable) unregister(owner, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[name]; ok && existing.owner == owner {
		delete(t.entries, name)
	}
}

func (t *handlerTable) lookup(name string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[name]
	return e.handler, ok
}

func (t *handlerTable) names() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.entries))
	for name, e := range t.entries {
		out[name] = e.owner
	}
	return out
}

// scope is the API issued to one plugin for one enable cycle.
type scope struct {
	id      string
	table   *handlerTable
	emitter *event.Emitter

	mu      sync.Mutex
	revoked bool
	names   map[string]struct{}
	subs    []*event.Subscription
}

func newScope(id string, table *handlerTable, emitter *event.Emitter) *scope {
	return &scope{id: id, table: table, emitter: emitter, names: make(map[string]struct{})}
}

func (s *scope) PluginID() string { return s.id }

func (s *scope) Register(name string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked {
		return newError(CodeNotInstalled, "plugin %s api has been revoked", s.id)
	}
	if err := s.table.register(s.id, name, handler); err != nil {
		return err
	}
	s.names[name] = struct{}{}
	return nil
}

func (s *scope) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; !ok {
		return
	}
	delete(s.names, name)
	s.table.unregister(s.id, name)
}

func (s *scope) Emit(ctx context.Context, eventType string, data map[string]any) error {
	s.mu.Lock()
	revoked := s.revoked
	s.mu.Unlock()
	if revoked {
		return newError(CodeNotInstalled, "plugin %s api has been revoked", s.id)
	}
	return s.emitter.Emit(ctx, event.Event{
		ID:        uuid.NewString(),
		Type:      event.Type(eventType),
		PluginID:  s.id,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (s *scope) On(eventType string, handler event.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked || handler == nil {
		return
	}
	s.subs = append(s.subs, s.emitter.On(event.Type(eventType), handler))
}

// revoke drops every handler and subscription made through the scope and
// makes further calls inert.
func (s *scope) revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked {
		return
	}
	s.revoked = true
	for name := range s.names {
		s.table.unregister(s.id, name)
	}
	s.names = nil
	for _, sub := range s.subs {
		s.emitter.Off(sub)
	}
	s.subs = nil
}

func (s *scope) registered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
