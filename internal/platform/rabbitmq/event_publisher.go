package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"interviewsim/internal/broadcast"
)

// EventPublisher pushes message events onto a fanout exchange. Every server
// instance binds its own relay queue to the exchange, so observers connected
// to any instance see the event.
type EventPublisher struct {
	conn     *amqp.Connection
	exchange string
}

func NewEventPublisher(conn *amqp.Connection, exchange string) *EventPublisher {
	return &EventPublisher{
		conn:     conn,
		exchange: exchange,
	}
}

func (p *EventPublisher) Publish(ctx context.Context, event broadcast.MessageEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		p.exchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange failed: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event payload failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		p.exchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		},
	); err != nil {
		return fmt.Errorf("publish event failed: %w", err)
	}
	return nil
}
