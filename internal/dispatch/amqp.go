package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPOptions configures the RabbitMQ queue backend.
type AMQPOptions struct {
	URL      string
	Queue    string
	Prefetch int
}

// AMQPQueue is the durable queue backend. Deliveries are persistent and
// acknowledged manually after the dispatch attempt, so queued work survives
// broker and process restarts.
type AMQPQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewAMQPQueue dials the broker and declares the durable work queue.
func NewAMQPQueue(opts AMQPOptions) (*AMQPQueue, error) {
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dispatch: dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dispatch: open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(
		opts.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("dispatch: declare queue: %w", err)
	}
	prefetch := opts.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("dispatch: set qos: %w", err)
	}
	return &AMQPQueue{conn: conn, channel: channel, queue: opts.Queue}, nil
}

// Enqueue publishes the job id as a persistent message on the default
// exchange.
func (q *AMQPQueue) Enqueue(ctx context.Context, jobID string) error {
	err := q.channel.PublishWithContext(ctx,
		"",      // default exchange
		q.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "text/plain",
			Body:         []byte(jobID),
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("dispatch: publish job: %w", err)
	}
	return nil
}

// Dequeue receives the next job id. Done(false) acks the message; Done(true)
// nacks it back onto the queue.
func (q *AMQPQueue) Dequeue(ctx context.Context) (Delivery, error) {
	deliveries, err := q.consume()
	if err != nil {
		return Delivery{}, err
	}
	select {
	case msg, ok := <-deliveries:
		if !ok {
			return Delivery{}, ErrQueueClosed
		}
		return Delivery{JobID: string(msg.Body), done: func(requeue bool) {
			if requeue {
				_ = msg.Nack(false, true)
				return
			}
			_ = msg.Ack(false)
		}}, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (q *AMQPQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.channel.Consume(
		q.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("dispatch: consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close shuts down the channel and connection.
func (q *AMQPQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close()
		return fmt.Errorf("dispatch: close channel: %w", err)
	}
	if err := q.conn.Close(); err != nil {
		return fmt.Errorf("dispatch: close connection: %w", err)
	}
	return nil
}
