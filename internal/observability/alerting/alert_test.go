package alerting

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "PluginSystem/internal/errors"
	"PluginSystem/pkg/event"
	"PluginSystem/pkg/health"
	"PluginSystem/pkg/logger"
	"PluginSystem/pkg/plugin"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("offline")}
	d := NewFanout(a, nil, b)

	err := d.Notify(context.Background(), Event{Code: CodeUnhealthy})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel b: offline")
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)

	var nilDispatcher *FanoutDispatcher
	assert.NoError(t, nilDispatcher.Notify(context.Background(), Event{}))
}

func TestLogNotifierWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, n.Notify(context.Background(), Event{
		Code:     CodeUnhealthy,
		Message:  "plugin core is unhealthy",
		Severity: xerrors.SeverityCritical,
		PluginID: "core",
		Metadata: map[string]string{"previous": "healthy"},
	}))
	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"plugin_id":"core"`)
	assert.Contains(t, out, `"previous":"healthy"`)
}

func TestHealthChangedAlertsOnlyOnUnhealthy(t *testing.T) {
	rec := &recordingNotifier{channel: ChannelLog}
	a := NewAlerter(NewFanout(rec), logger.Nop())

	ctx := context.Background()
	a.HealthChanged(ctx, health.Change{PluginID: "core", Previous: health.StatusUnknown, Current: health.StatusHealthy})
	a.HealthChanged(ctx, health.Change{PluginID: "core", Previous: health.StatusHealthy, Current: health.StatusDegraded})
	a.HealthChanged(ctx, health.Change{
		PluginID: "core",
		Previous: health.StatusDegraded,
		Current:  health.StatusUnhealthy,
		Result:   health.Result{Message: "health check failed after 3 retries", Retries: 3},
	})

	require.Len(t, rec.events, 1)
	got := rec.events[0]
	assert.Equal(t, CodeUnhealthy, got.Code)
	assert.Equal(t, xerrors.SeverityCritical, got.Severity)
	assert.Equal(t, "plugin core is unhealthy: health check failed after 3 retries", got.Message)
	assert.Equal(t, "degraded", got.Metadata["previous"])
	assert.Equal(t, "3", got.Metadata["retries"])
}

func TestPluginErrorHonoursAlertAttribute(t *testing.T) {
	rec := &recordingNotifier{channel: ChannelLog}
	a := NewAlerter(NewFanout(rec), logger.Nop())
	ctx := context.Background()

	quiet := event.New(event.TypeError, "core", map[string]any{"operation": "install", "error": "bad", "code": string(plugin.CodeInvalid)})
	require.NoError(t, a.PluginError(ctx, quiet))
	assert.Empty(t, rec.events)

	loud := event.New(event.TypeError, "core", map[string]any{"operation": "enable", "error": "init exploded", "code": string(plugin.CodeInitFailed)})
	require.NoError(t, a.PluginError(ctx, loud))
	require.Len(t, rec.events, 1)
	assert.Equal(t, plugin.CodeInitFailed, rec.events[0].Code)
	assert.Equal(t, "init exploded", rec.events[0].Message)
	assert.Equal(t, "enable", rec.events[0].Metadata["operation"])
	assert.Equal(t, "lifecycle", rec.events[0].Source)

	require.NoError(t, a.PluginError(ctx, event.New(event.TypeEnabled, "core", nil)))
	assert.Len(t, rec.events, 1)
}

func TestAlerterSurvivesDeliveryFailure(t *testing.T) {
	rec := &recordingNotifier{channel: ChannelLog, err: errors.New("down")}
	a := NewAlerter(NewFanout(rec), logger.Nop())
	a.now = func() time.Time { return time.Unix(0, 0) }

	a.HealthChanged(context.Background(), health.Change{PluginID: "core", Current: health.StatusUnhealthy})
	require.Len(t, rec.events, 1)
	assert.Equal(t, time.Unix(0, 0), rec.events[0].OccurredAt)
}
