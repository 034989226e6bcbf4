package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PluginSystem/internal/config"
	"PluginSystem/internal/storage"
	"PluginSystem/pkg/event"
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

func newManager(t *testing.T, em *event.Emitter) *plugin.Manager {
	t.Helper()
	m, err := plugin.NewManager(plugin.ManagerConfig{},
		plugin.WithEmitter(em), plugin.WithLogger(logger.Nop()), plugin.WithAuditLogger(logger.Nop()))
	require.NoError(t, err)
	return m
}

func TestOpenStoreDrivers(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, config.StorageConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, mem)

	file, err := openStore(ctx, config.StorageConfig{Driver: config.DriverFile, Path: filepath.Join(t.TempDir(), "registry.json")})
	require.NoError(t, err)
	assert.IsType(t, &storage.FileStore{}, file)

	_, err = openStore(ctx, config.StorageConfig{Driver: "etcd"})
	assert.Error(t, err)
}

func TestPersisterSavesOnLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	em := event.NewEmitter()
	m := newManager(t, em)
	store := storage.NewMemoryStore()

	p := newPersister(store, m.Registry, logger.Nop())
	p.attach(em)

	require.NoError(t, m.Install(ctx, testPlugin("core")))
	require.NoError(t, m.Enable(ctx, "core"))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	rec, ok := snap.Get("core")
	require.True(t, ok)
	assert.Equal(t, plugin.StatusEnabled, rec.Status)

	p.detach()
	require.NoError(t, m.Disable(ctx, "core"))
	snap, err = store.Load(ctx)
	require.NoError(t, err)
	rec, _ = snap.Get("core")
	assert.Equal(t, plugin.StatusEnabled, rec.Status)
}

func TestRestoreReenablesSavedPlugins(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	first := newManager(t, event.NewEmitter())
	require.NoError(t, first.Install(ctx, testPlugin("core")))
	require.NoError(t, first.Install(ctx, testPlugin("auth", "core")))
	require.NoError(t, first.Install(ctx, testPlugin("idle")))
	require.NoError(t, first.Enable(ctx, "core"))
	require.NoError(t, first.Enable(ctx, "auth"))
	require.NoError(t, newPersister(store, first.Registry, logger.Nop()).save(ctx))

	second := newManager(t, event.NewEmitter())
	require.NoError(t, second.Install(ctx, testPlugin("core")))
	require.NoError(t, second.Install(ctx, testPlugin("auth", "core")))
	require.NoError(t, second.Install(ctx, testPlugin("idle")))

	require.NoError(t, restore(ctx, store, second, logger.Nop()))
	for id, want := range map[string]plugin.Status{"core": plugin.StatusEnabled, "auth": plugin.StatusEnabled, "idle": plugin.StatusInstalled} {
		st, ok := second.Get(id)
		require.True(t, ok)
		assert.Equal(t, want, st.Status, id)
	}
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	m := newManager(t, event.NewEmitter())
	assert.NoError(t, restore(context.Background(), storage.NewMemoryStore(), m, logger.Nop()))
}
