package event

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Handler receives an event. A returned error (or a panic) makes Emit fail.
type Handler func(ctx context.Context, e Event) error

// Subscription identifies a registered handler. Pass it to Emitter.Off to
// remove the handler.
type Subscription struct {
	id      uint64
	typ     Type
	handler Handler
	once    bool
	fired   atomic.Bool
}

// Type returns the event type the subscription listens to.
func (s *Subscription) Type() Type { return s.typ }

// Emitter is a concurrency-safe pub/sub bus keyed by event type.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[Type][]*Subscription
	nextID uint64
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[Type][]*Subscription)}
}

// On registers handler for every event of type t.
func (e *Emitter) On(t Type, handler Handler) *Subscription {
	return e.add(t, handler, false)
}

// Once registers handler for the next event of type t only.
func (e *Emitter) Once(t Type, handler Handler) *Subscription {
	return e.add(t, handler, true)
}

func (e *Emitter) add(t Type, handler Handler, once bool) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	sub := &Subscription{id: e.nextID, typ: t, handler: handler, once: once}
	e.subs[t] = append(e.subs[t], sub)
	return sub
}

// Off removes a subscription. It reports whether the subscription was still
// registered.
func (e *Emitter) Off(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(sub)
}

func (e *Emitter) removeLocked(sub *Subscription) bool {
	list := e.subs[sub.typ]
	for i, candidate := range list {
		if candidate.id != sub.id {
			continue
		}
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(e.subs, sub.typ)
		} else {
			e.subs[sub.typ] = next
		}
		return true
	}
	return false
}

// ListenerCount returns the number of handlers registered for t.
func (e *Emitter) ListenerCount(t Type) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[t])
}

// RemoveAll drops every handler for t.
func (e *Emitter) RemoveAll(t Type) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, t)
}

// Emit invokes every handler registered for ev.Type concurrently and waits
// for all of them. It returns the first error produced by a handler; the
// remaining handlers still run to completion. With no handlers it returns nil
// immediately.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	handlers := e.claim(ev.Type)
	if len(handlers) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, h := range handlers {
		h := h
		g.Go(func() error { return invoke(ctx, h, ev) })
	}
	return g.Wait()
}

// claim snapshots the handlers for t and unregisters once-handlers so a
// concurrent Emit cannot run them a second time.
func (e *Emitter) claim(t Type) []Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.subs[t]
	if len(list) == 0 {
		return nil
	}
	handlers := make([]Handler, 0, len(list))
	for _, sub := range list {
		if sub.once {
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			e.removeLocked(sub)
		}
		handlers = append(handlers, sub.handler)
	}
	return handlers
}

func invoke(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler for %s panicked: %v\n%s", ev.Type, r, debug.Stack())
		}
	}()
	return h(ctx, ev)
}
