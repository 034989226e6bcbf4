// Command pluginsysd runs the plugin manager as a daemon: it loads the
// configured and discovered plugins, restores which of them were enabled,
// polls their health and serves the admin API until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"PluginSystem/internal/api"
	"PluginSystem/internal/config"
	"PluginSystem/internal/discovery"
	"PluginSystem/internal/observability/alerting"
	obsmetrics "PluginSystem/internal/observability/metrics"
	"PluginSystem/internal/relay"
	"PluginSystem/pkg/event"
	"PluginSystem/pkg/health"
	"PluginSystem/pkg/logger"
	"PluginSystem/pkg/metrics"
	"PluginSystem/pkg/plugin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("pluginsysd: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("PLUGINSYS_CONFIG")
	if path != "" {
		return config.Load(path)
	}
	path = filepath.Join("configs", "pluginsys.json")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default("."), nil
	}
	return config.Load(path)
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("pluginsysd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()

	managerCfg := plugin.ManagerConfig{}
	if cfg.Plugins.ConfigPath != "" {
		managerCfg, err = plugin.LoadManagerConfig(cfg.Plugins.ConfigPath)
		if err != nil {
			return err
		}
	}

	emitter := event.NewEmitter()
	collector := metrics.NewCollector()
	manager, err := plugin.NewManager(managerCfg,
		plugin.WithEmitter(emitter),
		plugin.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	alerter := alerting.NewAlerter(alerting.NewFanout(&alerting.LogNotifier{}), nil)
	emitter.On(event.TypeError, alerter.PluginError)

	if cfg.Events.Driver == config.EventsRabbitMQ {
		pub, err := relay.NewRabbitMQPublisher(relay.RabbitMQConfig{
			URL:           cfg.Events.RabbitMQ.URL,
			Exchange:      cfg.Events.RabbitMQ.Exchange,
			RoutingPrefix: cfg.Events.RabbitMQ.RoutingPrefix,
			Durable:       cfg.Events.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
		r := relay.New(pub)
		r.Attach(emitter)
		defer r.Close()
	}

	if err := manager.LoadConfigured(ctx); err != nil {
		return err
	}
	if len(managerCfg.Discovery.Roots) > 0 {
		d, err := discovery.New(managerCfg.Discovery, nil)
		if err != nil {
			return err
		}
		res, err := d.Run(ctx, manager)
		if err != nil {
			log.Warn("plugin discovery incomplete", slog.Any("error", err))
		}
		for _, f := range res.Errors {
			log.Warn("plugin discovery failure", slog.String("path", f.Path), slog.Any("error", f.Err))
		}
		log.Info("plugin discovery finished",
			slog.Int("paths", len(res.Paths)),
			slog.Int("loaded", len(res.Plugins)),
			slog.Bool("auto_load", d.AutoLoad),
		)
	}

	if err := restore(ctx, store, manager, log); err != nil {
		log.Warn("registry restore incomplete", slog.Any("error", err))
	}

	saver := newPersister(store, manager.Registry, log)
	saver.attach(emitter)
	if err := saver.save(ctx); err != nil {
		log.Warn("initial snapshot failed", slog.Any("error", err))
	}

	checker, err := health.NewManager(manager, health.Config{
		Interval:   cfg.Health.Interval.Std(),
		MaxRetries: cfg.Health.MaxRetries,
		RetryDelay: cfg.Health.RetryDelay.Std(),
		Timeout:    cfg.Health.Timeout.Std(),
		Workers:    cfg.Health.Workers,
	}, health.WithMetrics(collector))
	if err != nil {
		return err
	}
	defer checker.Close()
	checker.OnHealthChange(alerter.HealthChanged)
	if cfg.Health.Enabled {
		checker.Start(ctx)
	}

	registry := obsmetrics.NewRegistry(metrics.NewExporter(collector))
	server := api.NewServer(cfg.Server.Address, manager,
		api.WithToken(cfg.Server.Token),
		api.WithHealth(checker),
		api.WithStats(collector),
		api.WithGatherer(registry),
		api.WithHTTPMetrics(obsmetrics.NewHTTPMetrics(registry)),
		api.WithReadinessCheck("storage", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := store.Exists(checkCtx)
			return err
		}),
	)

	log.Info("pluginsysd started",
		slog.Int("plugins", manager.Count()),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("events", cfg.Events.Driver),
	)
	serveErr := server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	checker.Stop()
	if err := saver.save(shutdownCtx); err != nil {
		log.Warn("final snapshot failed", slog.Any("error", err))
	}
	saver.detach()
	if err := manager.DisableAll(shutdownCtx); err != nil {
		log.Warn("disable on shutdown failed", slog.Any("error", err))
	}
	log.Info("pluginsysd stopped")
	return serveErr
}
