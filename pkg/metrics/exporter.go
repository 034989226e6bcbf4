package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pluginsys"

// Exporter exposes a Collector as Prometheus metrics. Values are read from
// the collector at scrape time.
type Exporter struct {
	source *Collector

	loadSeconds    *prometheus.Desc
	initSeconds    *prometheus.Desc
	errors         *prometheus.Desc
	calls          *prometheus.Desc
	enabledSeconds *prometheus.Desc
	healthy        *prometheus.Desc
	tracked        *prometheus.Desc
	enabled        *prometheus.Desc
}

// NewExporter returns an exporter reading from source.
func NewExporter(source *Collector) *Exporter {
	labels := []string{"plugin"}
	return &Exporter{
		source:         source,
		loadSeconds:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "plugin", "load_seconds"), "Duration of the last plugin load.", labels, nil),
		initSeconds:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "plugin", "init_seconds"), "Duration of the last plugin init.", labels, nil),
		errors:         prometheus.NewDesc(prometheus.BuildFQName(namespace, "plugin", "errors_total"), "Errors recorded for the plugin.", labels, nil),
		calls:          prometheus.NewDesc(prometheus.BuildFQName(namespace, "plugin", "calls_total"), "Load calls recorded for the plugin.", labels, nil),
		enabledSeconds: prometheus.NewDesc(prometheus.BuildFQName(namespace, "plugin", "enabled_seconds"), "Time the plugin has been enabled.", labels, nil),
		healthy:        prometheus.NewDesc(prometheus.BuildFQName(namespace, "plugin", "healthy"), "1 when the plugin error history is healthy.", labels, nil),
		tracked:        prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "plugins_tracked"), "Plugins with recorded metrics.", nil, nil),
		enabled:        prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "plugins_enabled"), "Plugins currently enabled.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.loadSeconds
	ch <- e.initSeconds
	ch <- e.errors
	ch <- e.calls
	ch <- e.enabledSeconds
	ch <- e.healthy
	ch <- e.tracked
	ch <- e.enabled
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, m := range e.source.All() {
		ch <- prometheus.MustNewConstMetric(e.loadSeconds, prometheus.GaugeValue, m.LoadTime.Seconds(), m.PluginID)
		ch <- prometheus.MustNewConstMetric(e.initSeconds, prometheus.GaugeValue, m.InitTime.Seconds(), m.PluginID)
		ch <- prometheus.MustNewConstMetric(e.errors, prometheus.CounterValue, float64(m.ErrorCount), m.PluginID)
		ch <- prometheus.MustNewConstMetric(e.calls, prometheus.CounterValue, float64(m.CallCount), m.PluginID)
		ch <- prometheus.MustNewConstMetric(e.enabledSeconds, prometheus.GaugeValue, m.EnabledDuration.Seconds(), m.PluginID)
		healthy := 0.0
		if e.source.CheckHealth(m.PluginID) {
			healthy = 1
		}
		ch <- prometheus.MustNewConstMetric(e.healthy, prometheus.GaugeValue, healthy, m.PluginID)
	}
	stats := e.source.Stats()
	ch <- prometheus.MustNewConstMetric(e.tracked, prometheus.GaugeValue, float64(stats.Total))
	ch <- prometheus.MustNewConstMetric(e.enabled, prometheus.GaugeValue, float64(stats.Enabled))
}
