package plugin

import "sort"

// Registry maps plugin ids to their state. It is a value: With and Without
// return a modified copy and never touch the receiver, so a Registry can be
// shared between goroutines without locking.
type Registry struct {
	states map[string]State
}

// NewRegistry builds a registry holding states. Later entries win on
// duplicate ids.
func NewRegistry(states ...State) Registry {
	r := Registry{states: make(map[string]State, len(states))}
	for _, s := range states {
		r.states[s.ID()] = s
	}
	return r
}

// Get returns the state of id.
func (r Registry) Get(id string) (State, bool) {
	s, ok := r.states[id]
	return s, ok
}

// Has reports whether id is installed.
func (r Registry) Has(id string) bool {
	_, ok := r.states[id]
	return ok
}

// Count returns the number of installed plugins.
func (r Registry) Count() int {
	return len(r.states)
}

// All returns every state ordered by install time, then id.
func (r Registry) All() []State {
	return r.filter(func(State) bool { return true })
}

// Enabled returns the states with StatusEnabled.
func (r Registry) Enabled() []State {
	return r.filter(func(s State) bool { return s.Status == StatusEnabled })
}

// Disabled returns the states with StatusDisabled.
func (r Registry) Disabled() []State {
	return r.filter(func(s State) bool { return s.Status == StatusDisabled })
}

// Plugins returns the definitions of every installed plugin in All order.
func (r Registry) Plugins() []*Plugin {
	all := r.All()
	out := make([]*Plugin, 0, len(all))
	for _, s := range all {
		out = append(out, s.Plugin)
	}
	return out
}

// With returns a copy of r with s stored under its id.
func (r Registry) With(s State) Registry {
	next := r.clone(1)
	next.states[s.ID()] = s
	return next
}

// Without returns a copy of r with id removed.
func (r Registry) Without(id string) Registry {
	next := r.clone(0)
	delete(next.states, id)
	return next
}

func (r Registry) clone(extra int) Registry {
	states := make(map[string]State, len(r.states)+extra)
	for id, s := range r.states {
		states[id] = s
	}
	return Registry{states: states}
}

func (r Registry) filter(keep func(State) bool) []State {
	out := make([]State, 0, len(r.states))
	for _, s := range r.states {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InstalledAt.Equal(out[j].InstalledAt) {
			return out[i].InstalledAt.Before(out[j].InstalledAt)
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}
