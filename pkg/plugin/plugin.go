// Package plugin installs, enables, disables, updates and uninstalls
// in-process plugins, resolves the dependencies between them and publishes
// lifecycle events.
package plugin

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"PluginSystem/pkg/event"
	"PluginSystem/pkg/metrics"
)

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithEmitter publishes lifecycle events on a shared emitter instead of a
// private one.
func WithEmitter(emitter *event.Emitter) Option {
	return func(m *Manager) {
		if emitter != nil {
			m.emitter = emitter
		}
	}
}

// WithMetrics records load, init and error metrics on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) {
		m.collector = collector
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithAuditLogger sets the logger lifecycle transitions are recorded on.
func WithAuditLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.audit = l
		}
	}
}

// WithTracerProvider sets the provider lifecycle spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) {
		if tp != nil {
			m.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock replaces the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
