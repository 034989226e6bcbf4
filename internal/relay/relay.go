// Package relay forwards plugin lifecycle events from the manager's emitter
// to an external message broker.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"PluginSystem/pkg/event"
	"PluginSystem/pkg/logger"
)

// Publisher delivers a single event to a broker.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
	Close() error
}

// Relay subscribes to an emitter and hands every event to a Publisher.
// Publish failures are logged and never reported back to the emitter, so a
// broker outage does not fail plugin operations.
type Relay struct {
	pub     Publisher
	log     *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	emitter *event.Emitter
	subs    []*event.Subscription
}

// Option customises a Relay.
type Option func(*Relay)

// WithLogger overrides the relay logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTimeout bounds each publish call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) { r.timeout = d }
}

// New creates a relay around pub.
func New(pub Publisher, opts ...Option) *Relay {
	r := &Relay{pub: pub, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("relay")
	}
	return r
}

// Attach subscribes to the given types on em, or to every lifecycle type
// when none is given. A relay is attached to at most one emitter; attaching
// again detaches first.
func (r *Relay) Attach(em *event.Emitter, types ...event.Type) {
	if len(types) == 0 {
		types = event.LifecycleTypes()
	}
	r.Detach()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitter = em
	for _, t := range types {
		r.subs = append(r.subs, em.On(t, r.forward))
	}
}

// Detach removes every subscription made by Attach.
func (r *Relay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		r.emitter.Off(sub)
	}
	r.subs = nil
	r.emitter = nil
}

// Close detaches and closes the publisher.
func (r *Relay) Close() error {
	r.Detach()
	if r.pub == nil {
		return nil
	}
	return r.pub.Close()
}

func (r *Relay) forward(ctx context.Context, ev event.Event) error {
	if r.pub == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.log.Warn("event relay failed",
			slog.String("event_id", ev.ID),
			slog.String("type", string(ev.Type)),
			slog.String("plugin_id", ev.PluginID),
			slog.Any("error", err),
		)
	}
	return nil
}
