package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/freieslabor/prepaid-mate/internal/models"
)

const (
	// queue for committed ledger events
	EventQueue = "ledger_events"
)

// handles RabbitMQ operations
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	logger  *zap.Logger
}

func NewRabbitMQ(uri string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		EventQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		queue:   q,
		logger:  logger,
	}, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// PublishEvent sends a committed ledger event to the queue.
func (r *RabbitMQ) PublishEvent(ctx context.Context, e *models.LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = r.channel.Publish(
		"",         // exchange
		EventQueue, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    e.ID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// ConsumeEvents delivers events to handle until ctx is done or the channel
// closes. A message is acked only after handle succeeds; handler errors
// requeue it and undecodable bodies are dropped.
func (r *RabbitMQ) ConsumeEvents(ctx context.Context, handle func(context.Context, *models.LedgerEvent) error) error {
	msgs, err := r.channel.Consume(
		EventQueue, // queue
		"",         // consumer
		false,      // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			var e models.LedgerEvent
			if err := json.Unmarshal(msg.Body, &e); err != nil {
				r.logger.Error("failed to unmarshal event", zap.String("message_id", msg.MessageId), zap.Error(err))
				msg.Reject(false)
				continue
			}

			if err := handle(ctx, &e); err != nil {
				r.logger.Error("failed to handle event", zap.String("event_id", e.ID), zap.Error(err))
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}
}
