// Package mq carries the remote change stream over RabbitMQ: the store side
// publishes document change events to a topic exchange keyed by owner id,
// and each device consumes them from its own durable queue.
package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection wraps the underlying AMQP connection.
type Connection struct {
	conn *amqp.Connection
}

// Dial connects to the broker.
func Dial(url string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return &Connection{conn: conn}, nil
}

// Channel opens a new channel on the connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

// Close closes the connection and every channel on it.
func (c *Connection) Close() error {
	return c.conn.Close()
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}
