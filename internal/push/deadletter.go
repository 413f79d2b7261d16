package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// AMQPDeadLetter publishes failed deliveries to a durable queue.
type AMQPDeadLetter struct {
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialDeadLetter connects to url and declares queue.
func DialDeadLetter(url, queue string) (*AMQPDeadLetter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPDeadLetter{queue: queue, conn: conn, ch: ch}, nil
}

// Publish sends entry through the default exchange. Calls share one channel
// and are serialized.
func (d *AMQPDeadLetter) Publish(ctx context.Context, entry DeadLetterEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch == nil {
		return amqp.ErrClosed
	}
	return d.ch.Publish(
		"",
		d.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    entry.FailedAt,
			Type:         string(entry.Category),
			Body:         body,
		})
}

func (d *AMQPDeadLetter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	if d.ch != nil {
		_ = d.ch.Close()
		d.ch = nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}
