package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"interviewsim/internal/broadcast"
)

// BroadcastRelay consumes message events from the fanout exchange and hands
// them to the local WebSocket hub. Each instance binds its own exclusive
// queue, so every instance relays every event to its own observers.
type BroadcastRelay struct {
	conn     *amqp.Connection
	hub      *broadcast.Hub
	exchange string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBroadcastRelay(conn *amqp.Connection, hub *broadcast.Hub, exchange string) *BroadcastRelay {
	return &BroadcastRelay{
		conn:     conn,
		hub:      hub,
		exchange: exchange,
	}
}

func (w *BroadcastRelay) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	relayCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open relay channel failed: %w", err)
	}

	if err := ch.ExchangeDeclare(
		w.exchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare relay exchange failed: %w", err)
	}

	queue, err := ch.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare relay queue failed: %w", err)
	}

	if err := ch.QueueBind(queue.Name, "", w.exchange, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("bind relay queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		queue.Name,
		"",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume relay queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-relayCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var event broadcast.MessageEvent
				if err := json.Unmarshal(d.Body, &event); err != nil {
					log.Printf("relay decode event failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				w.hub.Broadcast(event.SessionID, d.Body, event.SocketID)
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *BroadcastRelay) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
