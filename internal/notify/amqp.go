package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP publishes events to a RabbitMQ topic exchange. Routing keys follow
// "<prefix>.<type>.<symbol>.<period>" for symbol events and
// "<prefix>.run.<status>" for run events, so consumers can bind as narrowly
// as they like.
type AMQP struct {
	url      string
	exchange string
	prefix   string

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQP connects and declares the topic exchange. The exchange is durable;
// the broker keeps it across restarts.
func NewAMQP(url, exchange, prefix string) (*AMQP, error) {
	if exchange == "" {
		exchange = "harvester.events"
	}
	if prefix == "" {
		prefix = "harvester"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}

	return &AMQP{url: url, exchange: exchange, prefix: prefix, conn: conn, ch: ch}, nil
}

var _ Publisher = (*AMQP)(nil)

func (a *AMQP) PublishSymbol(ctx context.Context, ev SymbolEvent) error {
	period := ev.Period
	if period == "" {
		period = "all"
	}
	key := fmt.Sprintf("%s.%s.%s.%s", a.prefix, ev.Type, ev.Symbol, period)
	return a.publish(ctx, key, ev)
}

func (a *AMQP) PublishRun(ctx context.Context, ev RunEvent) error {
	key := fmt.Sprintf("%s.run.%s", a.prefix, ev.Status)
	return a.publish(ctx, key, ev)
}

func (a *AMQP) publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return a.ch.PublishWithContext(ctx, a.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (a *AMQP) Close() error {
	if a.ch != nil {
		a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
