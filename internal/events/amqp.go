// Package events carries lifecycle events from the engine to the notification
// gateway over a RabbitMQ fanout exchange. Delivery is best-effort relative to
// the triggering transition: the store commit has already happened by the time
// anything here runs.
package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"feastline/internal/domain"
	"feastline/pkg/logger"
)

const exchangeName = "order_events"

// Broker wraps an AMQP connection with the exchange topology declared.
type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *logger.Logger
}

func Connect(url string, log *logger.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	err = channel.ExchangeDeclare(
		exchangeName,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Action("amqp_connected").Info("connected to RabbitMQ", "exchange", exchangeName)
	return &Broker{conn: conn, channel: channel, log: log}, nil
}

func (b *Broker) Close() error {
	if err := b.channel.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

// Publish puts one lifecycle event on the fanout exchange.
func (b *Broker) Publish(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return b.channel.PublishWithContext(ctx,
		exchangeName,
		"",    // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		})
}

// Consume binds an exclusive queue to the exchange and invokes handle for
// every decoded event until ctx is cancelled. Each gateway instance gets its
// own queue, so every instance sees every event; there is no replay buffer.
func (b *Broker) Consume(ctx context.Context, handle func(domain.Event)) error {
	queue, err := b.channel.QueueDeclare(
		"",    // server-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}
	if err := b.channel.QueueBind(queue.Name, "", exchangeName, false, nil); err != nil {
		return err
	}

	deliveries, err := b.channel.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		return err
	}

	b.log.Action("consumer_started").Info("consuming lifecycle events", "queue", queue.Name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				b.log.Action("event_decode_failed").Error("dropping malformed event", err)
				msg.Nack(false, false)
				continue
			}
			handle(ev)
			if err := msg.Ack(false); err != nil {
				b.log.Action("event_ack_failed").Error("failed to ack event", err, "order_id", ev.OrderID)
			}
		}
	}
}
