package rabbit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"
)

// Client broadcasts roster changes between service instances. Messages go to
// a durable fanout exchange; every instance reads them back through its own
// exclusive, auto-deleted queue.
type Client struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
}

func NewRabbit(url, exchange, queuePrefix string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Client{conn: conn, ch: ch, exchange: exchange}
	if err := c.declare(queueName(queuePrefix)); err != nil {
		c.Close()
		return nil, err
	}

	zlog.Logger.Info().
		Str("exchange", c.exchange).
		Str("queue", c.queue).
		Msg("roster broker ready")
	return c, nil
}

func queueName(prefix string) string {
	return prefix + "." + uuid.NewString()
}

func (c *Client) declare(queue string) error {
	const (
		durable    = true
		autoDelete = true
		exclusive  = true
		noWait     = false
	)

	if err := c.ch.ExchangeDeclare(c.exchange, amqp.ExchangeFanout, durable, !autoDelete, false, noWait, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	q, err := c.ch.QueueDeclare(queue, !durable, autoDelete, exclusive, noWait, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	// Fanout exchanges ignore the routing key.
	if err := c.ch.QueueBind(q.Name, "", c.exchange, noWait, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	c.queue = q.Name
	return nil
}

func (c *Client) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	zlog.Logger.Info().Str("queue", c.queue).Msg("roster broker connection closed")
}

func (c *Client) Publish(ctx context.Context, body []byte) error {
	msg := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	}
	if err := c.ch.PublishWithContext(ctx, c.exchange, "", false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", c.exchange, err)
	}
	return nil
}

// Consume starts delivering messages from the instance queue to handler.
func (c *Client) Consume(handler func([]byte) error) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	go deliver(deliveries, handler)
	return nil
}

// deliver acks handled messages. Rejected ones are dropped, not requeued:
// a roster change is only worth showing while it is current.
func deliver(deliveries <-chan amqp.Delivery, handler func([]byte) error) {
	for d := range deliveries {
		if err := handler(d.Body); err != nil {
			zlog.Logger.Warn().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("dropping roster change")
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
}
