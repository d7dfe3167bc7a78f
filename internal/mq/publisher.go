package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/meterlog/internal/logging"
	"github.com/dmitrijs2005/meterlog/internal/remote"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher emits change events to the topic exchange. The routing key is
// the owner id, so every device subscribed to that owner receives the event.
type Publisher struct {
	channel  *amqp.Channel
	exchange string
	logger   logging.Logger
}

// NewPublisher opens a channel and declares the exchange.
func NewPublisher(conn *Connection, exchange string, logger logging.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends one change event, persistent, JSON-encoded.
func (p *Publisher) Publish(ctx context.Context, ev remote.ChangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		ev.OwnerID, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	p.logger.Debug(ctx, "published change event",
		"kind", string(ev.Kind), "record", ev.RecordID)
	return nil
}

// Close closes the publisher channel.
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
