package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PluginSystem/pkg/logger"
	"PluginSystem/pkg/plugin"
)

func testPlugin(id string, deps ...string) *plugin.Plugin {
	p := &plugin.Plugin{
		Metadata: plugin.Metadata{ID: id, Name: id, Version: "1.0.0"},
		Init:     func(context.Context, plugin.API) error { return nil },
	}
	for _, d := range deps {
		p.Dependencies = append(p.Dependencies, plugin.Dependency{ID: d, Version: "1.0.0"})
	}
	return p
}

func sampleSnapshot() Snapshot {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return Snapshot{
		SavedAt: at,
		Plugins: []Record{
			{ID: "core", Name: "Core", Version: "1.0.0", Status: plugin.StatusEnabled, InstalledAt: at, EnabledAt: &at},
			{ID: "auth", Name: "Auth", Version: "0.2.0", Status: plugin.StatusError, InstalledAt: at, Error: "boom",
				Dependencies: []plugin.Dependency{{ID: "core", Version: "1.0.0"}}},
		},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = store.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))

	snap := sampleSnapshot()
	require.NoError(t, store.Save(ctx, snap))
	exists, err = store.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)

	require.NoError(t, store.Clear(ctx))
	exists, err = store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, store.Close())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state", "registry.json"))
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func newManager(t *testing.T) *plugin.Manager {
	t.Helper()
	m, err := plugin.NewManager(plugin.ManagerConfig{},
		plugin.WithLogger(logger.Nop()), plugin.WithAuditLogger(logger.Nop()))
	require.NoError(t, err)
	return m
}

func TestFromRegistry(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	require.NoError(t, m.Install(ctx, testPlugin("core")))
	require.NoError(t, m.Install(ctx, testPlugin("auth", "core")))
	require.NoError(t, m.Enable(ctx, "core"))

	snap := FromRegistry(m.Registry(), time.Now())
	require.Len(t, snap.Plugins, 2)

	core, ok := snap.Get("core")
	require.True(t, ok)
	assert.Equal(t, plugin.StatusEnabled, core.Status)
	assert.NotNil(t, core.EnabledAt)

	auth, ok := snap.Get("auth")
	require.True(t, ok)
	assert.Equal(t, plugin.StatusInstalled, auth.Status)
	assert.Nil(t, auth.EnabledAt)
	assert.Len(t, auth.Dependencies, 1)
}

func TestRestoreEnablesInDependencyOrder(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	var order []string
	for _, p := range []*plugin.Plugin{testPlugin("core"), testPlugin("auth", "core"), testPlugin("extra")} {
		id := p.ID()
		p.Init = func(context.Context, plugin.API) error { order = append(order, id); return nil }
		require.NoError(t, m.Install(ctx, p))
	}

	at := time.Now()
	snap := Snapshot{Plugins: []Record{
		{ID: "auth", Status: plugin.StatusEnabled, EnabledAt: &at},
		{ID: "core", Status: plugin.StatusEnabled, EnabledAt: &at},
		{ID: "extra", Status: plugin.StatusDisabled},
		{ID: "gone", Status: plugin.StatusEnabled},
	}}

	missing, err := Restore(ctx, m, snap)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, missing)
	assert.Equal(t, []string{"core", "auth"}, order)
	assert.Len(t, m.Enabled(), 2)
}
