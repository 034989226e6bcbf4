package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PluginSystem/pkg/event"
	"PluginSystem/pkg/logger"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []event.Event
	fail   error
	closed bool
}

func (f *fakePublisher) Publish(_ context.Context, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func (f *fakePublisher) types() []event.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Type, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestRelayForwardsLifecycleEvents(t *testing.T) {
	em := event.NewEmitter()
	pub := &fakePublisher{}
	r := New(pub, WithLogger(logger.Nop()))
	r.Attach(em)

	ctx := context.Background()
	for _, typ := range event.LifecycleTypes() {
		require.NoError(t, em.Emit(ctx, event.New(typ, "core", nil)))
	}
	require.NoError(t, em.Emit(ctx, event.New("custom:ping", "core", nil)))

	assert.Equal(t, event.LifecycleTypes(), pub.types())
}

func TestRelayAttachSelectedTypes(t *testing.T) {
	em := event.NewEmitter()
	pub := &fakePublisher{}
	r := New(pub, WithLogger(logger.Nop()))
	r.Attach(em, event.TypeError)

	ctx := context.Background()
	require.NoError(t, em.Emit(ctx, event.New(event.TypeEnabled, "core", nil)))
	require.NoError(t, em.Emit(ctx, event.New(event.TypeError, "core", nil)))
	assert.Equal(t, []event.Type{event.TypeError}, pub.types())
}

func TestRelaySwallowsPublishErrors(t *testing.T) {
	em := event.NewEmitter()
	r := New(&fakePublisher{fail: errors.New("broker down")}, WithLogger(logger.Nop()), WithTimeout(time.Second))
	r.Attach(em)

	assert.NoError(t, em.Emit(context.Background(), event.New(event.TypeInstalled, "core", nil)))
}

func TestRelayDetachAndClose(t *testing.T) {
	em := event.NewEmitter()
	pub := &fakePublisher{}
	r := New(pub, WithLogger(logger.Nop()))
	r.Attach(em)
	r.Attach(em)
	assert.Equal(t, 1, em.ListenerCount(event.TypeInstalled))

	require.NoError(t, r.Close())
	assert.True(t, pub.closed)
	for _, typ := range event.LifecycleTypes() {
		assert.Zero(t, em.ListenerCount(typ))
	}
	require.NoError(t, em.Emit(context.Background(), event.New(event.TypeInstalled, "core", nil)))
	assert.Empty(t, pub.types())
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "pluginsys.plugin.enabled", routingKey("pluginsys", event.TypeEnabled))
	assert.Equal(t, "plugin.error", routingKey("", event.TypeError))
}

func TestMessageCarriesEvent(t *testing.T) {
	ev := event.New(event.TypeUpdated, "core", map[string]any{"oldVersion": "1.0.0", "newVersion": "1.1.0"})
	msg, err := message(ev)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, ev.ID, msg.MessageId)
	assert.Equal(t, "core", msg.Headers["plugin_id"])

	var decoded event.Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, ev.Type, decoded.Type)
	assert.Equal(t, "1.1.0", decoded.Data["newVersion"])
}

func TestNewRabbitMQPublisherRequiresURL(t *testing.T) {
	_, err := NewRabbitMQPublisher(RabbitMQConfig{})
	assert.Error(t, err)

	var nilPub *RabbitMQPublisher
	assert.Error(t, nilPub.Publish(context.Background(), event.Event{}))
	assert.NoError(t, nilPub.Close())
}
