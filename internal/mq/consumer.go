package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/meterlog/internal/logging"
	"github.com/dmitrijs2005/meterlog/internal/remote"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer turns the device's queue into a remote.ChangeEvent stream. Each
// device owns one durable queue named after its device id and bound to the
// owner's routing key; events that arrive while the device is offline wait
// in the queue.
type Consumer struct {
	conn     *Connection
	exchange string
	deviceID string
	logger   logging.Logger
	prefetch int
}

// NewConsumer returns a consumer bound to the given exchange and device.
func NewConsumer(conn *Connection, exchange, deviceID string, logger logging.Logger) *Consumer {
	return &Consumer{
		conn:     conn,
		exchange: exchange,
		deviceID: deviceID,
		logger:   logger,
		prefetch: 16,
	}
}

// Subscribe declares and binds the device queue for the owner and starts
// delivering its change events. The returned channel is closed when ctx is
// cancelled or the broker channel dies. Malformed payloads are logged,
// acknowledged and skipped; per-document failure never stops the stream.
func (c *Consumer) Subscribe(ctx context.Context, ownerID string) (<-chan remote.ChangeEvent, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declareExchange(ch, c.exchange); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue := fmt.Sprintf("readings.changes.%s", c.deviceID)
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(queue, ownerID, c.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	events := make(chan remote.ChangeEvent)

	go func() {
		defer close(events)
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					c.logger.Warn(ctx, "change stream channel closed", "queue", queue)
					return
				}
				c.deliver(ctx, msg, events)
			}
		}
	}()

	c.logger.Info(ctx, "subscribed to change stream", "queue", queue, "owner", ownerID)
	return events, nil
}

func (c *Consumer) deliver(ctx context.Context, msg amqp.Delivery, events chan<- remote.ChangeEvent) {
	var ev remote.ChangeEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		c.logger.Warn(ctx, "dropping malformed change event", "error", err)
		_ = msg.Ack(false)
		return
	}

	select {
	case events <- ev:
		_ = msg.Ack(false)
	case <-ctx.Done():
		// Session is stopping; leave the message queued for the next one.
		_ = msg.Nack(false, true)
	}
}
