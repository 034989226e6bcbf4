package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryIsPersistent(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	empty := NewRegistry()
	one := empty.With(State{Plugin: def("core"), Status: StatusInstalled, InstalledAt: base})
	two := one.With(State{Plugin: def("auth"), Status: StatusEnabled, InstalledAt: base.Add(time.Second)})

	assert.Equal(t, 0, empty.Count())
	assert.Equal(t, 1, one.Count())
	assert.Equal(t, 2, two.Count())

	without := two.Without("core")
	assert.True(t, two.Has("core"))
	assert.False(t, without.Has("core"))
	assert.Equal(t, 1, without.Count())
}

func TestRegistryViews(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	reg := NewRegistry(
		State{Plugin: def("c"), Status: StatusDisabled, InstalledAt: base.Add(2 * time.Second)},
		State{Plugin: def("a"), Status: StatusEnabled, InstalledAt: base},
		State{Plugin: def("b"), Status: StatusError, InstalledAt: base},
	)

	all := reg.All()
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID(), all[1].ID(), all[2].ID()})

	enabled := reg.Enabled()
	if assert.Len(t, enabled, 1) {
		assert.Equal(t, "a", enabled[0].ID())
	}
	disabled := reg.Disabled()
	if assert.Len(t, disabled, 1) {
		assert.Equal(t, "c", disabled[0].ID())
	}

	s, ok := reg.Get("b")
	assert.True(t, ok)
	assert.Equal(t, StatusError, s.Status)
	_, ok = reg.Get("zzz")
	assert.False(t, ok)
	assert.Len(t, reg.Plugins(), 3)
}

func TestRegistryViewsAreCopies(t *testing.T) {
	reg := NewRegistry(State{Plugin: def("a"), Status: StatusInstalled})
	all := reg.All()
	all[0].Status = StatusEnabled

	s, _ := reg.Get("a")
	assert.Equal(t, StatusInstalled, s.Status)
}
