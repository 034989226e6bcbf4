package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "PluginSystem/internal/errors"
	"PluginSystem/pkg/event"
)

// RabbitMQConfig describes the exchange events are published to.
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	// RoutingPrefix is prepended to the event type to form the routing key.
	RoutingPrefix string `json:"routing_prefix"`
	Durable       bool   `json:"durable"`
}

// RabbitMQPublisher publishes events as JSON to a topic exchange.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	prefix   string
}

// NewRabbitMQPublisher dials the broker and declares the exchange.
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "pluginsys.events"
	}
	prefix := cfg.RoutingPrefix
	if prefix == "" {
		prefix = "pluginsys"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, cfg.Durable, !cfg.Durable, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare rabbitmq exchange: %w", err)
	}
	return &RabbitMQPublisher{conn: conn, ch: ch, exchange: exchange, prefix: prefix}, nil
}

// Publish implements Publisher.
func (p *RabbitMQPublisher) Publish(ctx context.Context, ev event.Event) error {
	if p == nil || p.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "rabbitmq publisher not initialised")
	}
	msg, err := message(ev)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "encode event")
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey(p.prefix, ev.Type), false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "publish "+string(ev.Type))
	}
	return nil
}

// Close implements Publisher.
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// routingKey turns "plugin:enabled" into "<prefix>.plugin.enabled" so topic
// bindings such as "pluginsys.plugin.*" work.
func routingKey(prefix string, t event.Type) string {
	key := strings.ReplaceAll(string(t), ":", ".")
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func message(ev event.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Timestamp:   ev.Timestamp,
		Type:        string(ev.Type),
		Headers:     amqp.Table{"plugin_id": ev.PluginID},
		Body:        body,
	}, nil
}
