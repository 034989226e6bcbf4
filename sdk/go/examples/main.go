// Command examples starts an in-process admin API with one plugin installed
// and queries it with the pluginsys client.
package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"PluginSystem/internal/api"
	"PluginSystem/pkg/logger"
	"PluginSystem/pkg/metrics"
	"PluginSystem/pkg/plugin"
	"PluginSystem/sdk/go/pluginsys"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	collector := metrics.NewCollector()
	manager, err := plugin.NewManager(plugin.ManagerConfig{EnableOnLoad: true},
		plugin.WithMetrics(collector), plugin.WithLogger(logger.Nop()), plugin.WithAuditLogger(logger.Nop()))
	if err != nil {
		panic(err)
	}
	if err := manager.Install(ctx, &plugin.Plugin{
		Metadata: plugin.Metadata{ID: "demo", Name: "Demo", Version: "1.0.0"},
		Init:     func(context.Context, plugin.API) error { return nil },
	}); err != nil {
		panic(err)
	}

	srv := httptest.NewServer(api.NewServer("", manager, api.WithStats(collector), api.WithLogger(logger.Nop())).Handler())
	defer srv.Close()

	client, err := pluginsys.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	plugins, err := client.ListPlugins(ctx, "")
	if err != nil {
		panic(err)
	}
	for _, p := range plugins {
		fmt.Printf("%s %s (%s)\n", p.ID, p.Version, p.Status)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("%d plugins, %d enabled\n", stats.Total, stats.Enabled)

	if _, err := client.GetPlugin(ctx, "missing"); err != nil {
		fmt.Println(err)
	}
}
