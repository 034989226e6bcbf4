package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"PluginSystem/internal/config"
	"PluginSystem/internal/storage"
	"PluginSystem/internal/storage/mysql"
	redisstore "PluginSystem/internal/storage/redis"
	"PluginSystem/pkg/event"
	"PluginSystem/pkg/plugin"
)

// openStore builds the snapshot store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return storage.NewMemoryStore(), nil
	case config.DriverFile:
		return storage.NewFileStore(cfg.Path)
	case config.DriverRedis:
		return redisstore.New(ctx, redisstore.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			TTL:      cfg.Redis.TTL.Std(),
		})
	case config.DriverMySQL:
		return mysql.New(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime.Std(),
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// persister writes a registry snapshot after every lifecycle event. Saves
// are serialized and always read the current registry, so the last save
// wins with the latest state.
type persister struct {
	mu    sync.Mutex
	store storage.Store
	reg   func() plugin.Registry
	now   func() time.Time
	log   *slog.Logger

	subs    []*event.Subscription
	emitter *event.Emitter
}

func newPersister(store storage.Store, reg func() plugin.Registry, log *slog.Logger) *persister {
	return &persister{store: store, reg: reg, now: time.Now, log: log}
}

// save writes the current registry.
func (p *persister) save(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := storage.FromRegistry(p.reg(), p.now())
	if err := p.store.Save(ctx, snap); err != nil {
		p.log.Error("registry snapshot failed", slog.Any("error", err))
		return err
	}
	p.log.Debug("registry snapshot saved", slog.Int("plugins", len(snap.Plugins)))
	return nil
}

func (p *persister) attach(em *event.Emitter) {
	p.emitter = em
	for _, t := range event.LifecycleTypes() {
		p.subs = append(p.subs, em.On(t, func(ctx context.Context, _ event.Event) error {
			return p.save(context.WithoutCancel(ctx))
		}))
	}
}

func (p *persister) detach() {
	for _, sub := range p.subs {
		p.emitter.Off(sub)
	}
	p.subs = nil
}

// restore re-enables the plugins recorded as enabled in the stored snapshot.
func restore(ctx context.Context, store storage.Store, m storage.Lifecycle, log *slog.Logger) error {
	snap, err := store.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Info("no registry snapshot to restore")
			return nil
		}
		return err
	}
	missing, err := storage.Restore(ctx, m, snap)
	if len(missing) > 0 {
		log.Warn("snapshot lists plugins that are not installed", slog.Any("plugins", missing))
	}
	log.Info("registry snapshot restored", slog.Time("saved_at", snap.SavedAt), slog.Int("plugins", len(snap.Plugins)))
	return err
}
