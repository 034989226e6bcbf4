// Package alerting turns plugin failures and health transitions into alert
// events and fans them out to notifiers.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	xerrors "PluginSystem/internal/errors"
	"PluginSystem/pkg/event"
	"PluginSystem/pkg/health"
	"PluginSystem/pkg/logger"
)

// Channel identifies a notification channel.
type Channel string

const (
	ChannelLog Channel = "log"
)

// CodeUnhealthy is used for alerts raised by health transitions.
const CodeUnhealthy xerrors.Code = "PLUGIN_UNHEALTHY"

func init() {
	xerrors.Register(CodeUnhealthy, xerrors.Attributes{
		Message:  "plugin unhealthy",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// Event describes something that needs attention.
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	PluginID   string
	Source     string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier delivers an event to one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts events.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher delivers each event to every registered notifier.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout creates a dispatcher. A later notifier replaces an earlier one
// on the same channel.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify delivers event to every channel and joins the failures.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	channels := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	var errs []error
	for _, ch := range channels {
		if err := d.notifiers[ch].Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to a structured logger, the audit log by default.
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel implements Notifier.
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	log := logger.Audit()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("plugin_id", event.PluginID),
		slog.String("source", event.Source),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		meta := make([]any, 0, len(keys))
		for _, k := range keys {
			meta = append(meta, slog.String(k, event.Metadata[k]))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	log.Log(context.Background(), level, "alert: "+event.Message, attrs...)
	return nil
}

// Alerter converts plugin error events and health changes into alert events.
type Alerter struct {
	dispatcher Dispatcher
	log        *slog.Logger
	now        func() time.Time
}

// NewAlerter creates an Alerter. A nil logger selects the "alerting" logger.
func NewAlerter(d Dispatcher, log *slog.Logger) *Alerter {
	if log == nil {
		log = logger.Named("alerting")
	}
	return &Alerter{dispatcher: d, log: log, now: time.Now}
}

// HealthChanged raises an alert when a plugin becomes unhealthy. It matches
// health.ChangeHandler.
func (a *Alerter) HealthChanged(ctx context.Context, change health.Change) {
	if change.Current != health.StatusUnhealthy {
		return
	}
	attrs := xerrors.AttributesOf(CodeUnhealthy)
	msg := fmt.Sprintf("plugin %s is unhealthy", change.PluginID)
	if change.Result.Message != "" {
		msg += ": " + change.Result.Message
	}
	a.dispatch(ctx, Event{
		Code:     CodeUnhealthy,
		Message:  msg,
		Severity: attrs.Severity,
		PluginID: change.PluginID,
		Source:   "health",
		Metadata: map[string]string{
			"previous": string(change.Previous),
			"retries":  fmt.Sprint(change.Result.Retries),
		},
		OccurredAt: a.now(),
	})
}

// PluginError raises an alert for a plugin:error event whose code is marked
// for alerting. It matches event.Handler and never fails.
func (a *Alerter) PluginError(ctx context.Context, ev event.Event) error {
	if ev.Type != event.TypeError {
		return nil
	}
	code := xerrors.CodeUnknown
	if raw, ok := ev.Data["code"].(string); ok && raw != "" {
		code = xerrors.Code(raw)
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return nil
	}
	msg, _ := ev.Data["error"].(string)
	if msg == "" {
		msg = attrs.Message
	}
	op, _ := ev.Data["operation"].(string)
	a.dispatch(ctx, Event{
		Code:       code,
		Message:    msg,
		Severity:   attrs.Severity,
		PluginID:   ev.PluginID,
		Source:     "lifecycle",
		Metadata:   map[string]string{"operation": op, "event_id": ev.ID},
		OccurredAt: ev.Timestamp,
	})
	return nil
}

func (a *Alerter) dispatch(ctx context.Context, ev Event) {
	if a == nil || a.dispatcher == nil {
		return
	}
	if err := a.dispatcher.Notify(ctx, ev); err != nil {
		a.log.Warn("alert delivery failed", slog.String("code", string(ev.Code)), slog.String("plugin_id", ev.PluginID), slog.Any("error", err))
	}
}
