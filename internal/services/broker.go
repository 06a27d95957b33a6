package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/pkg/logger"
)

// Broker fans user events out to connected clients.
type Broker interface {
	Publish(ctx context.Context, event UserEvent) error
	Close() error
}

// RoutingKey is the topic routing key for a user event.
func RoutingKey(userID, eventType string) string {
	return fmt.Sprintf("user.%s.%s", userID, eventType)
}

// LocalBroker delivers straight to this process's SSE hub.
type LocalBroker struct {
	hub *SSEHub
}

func NewLocalBroker(hub *SSEHub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(_ context.Context, event UserEvent) error {
	b.hub.Publish(event)
	return nil
}

func (b *LocalBroker) Close() error { return nil }

// AMQPBroker publishes to a topic exchange so that every server instance can
// forward events to the SSE clients it holds.
type AMQPBroker struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	mu       sync.Mutex
}

func NewAMQPBroker(cfg *config.AMQPConfig) (*AMQPBroker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPBroker{conn: conn, ch: ch, exchange: cfg.Exchange}, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, event UserEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ch.PublishWithContext(ctx,
		b.exchange,
		RoutingKey(event.UserID, event.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// StartConsumer binds a private queue to every user topic and forwards the
// messages into hub until ctx is done.
func (b *AMQPBroker) StartConsumer(ctx context.Context, hub *SSEHub) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "user.#", b.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Warnf("[Broker] Consumer channel closed")
					return
				}
				var event UserEvent
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					logger.Warnf("[Broker] Dropping malformed event: %v", err)
					continue
				}
				hub.Publish(event)
			}
		}
	}()
	return nil
}

func (b *AMQPBroker) Close() error {
	if err := b.ch.Close(); err != nil {
		logger.Warnf("[Broker] Channel close: %v", err)
	}
	return b.conn.Close()
}

// InitBroker connects to RabbitMQ when enabled and falls back to in-process
// delivery otherwise.
func InitBroker(ctx context.Context, cfg *config.AMQPConfig, hub *SSEHub) Broker {
	if !cfg.Enabled {
		logger.Infof("[Broker] AMQP disabled, delivering events in-process")
		return NewLocalBroker(hub)
	}
	b, err := NewAMQPBroker(cfg)
	if err != nil {
		logger.Warnf("[Broker] %v, delivering events in-process", err)
		return NewLocalBroker(hub)
	}
	if err := b.StartConsumer(ctx, hub); err != nil {
		logger.Warnf("[Broker] %v, delivering events in-process", err)
		b.Close()
		return NewLocalBroker(hub)
	}
	logger.Infof("[Broker] Publishing user events to exchange %s", cfg.Exchange)
	return b
}
