// internal/events/sink.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/libranexus/lending/internal/domain"
)

// Sink receives committed domain events. Delivery is at least once, so
// sinks must tolerate duplicates (the event ID is stable).
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev domain.Event) error
}

// Message is the wire envelope of an outbound event.
type Message struct {
	ID            int64            `json:"id"`
	Type          domain.EventType `json:"type"`
	AggregateID   uuid.UUID        `json:"aggregate_id"`
	AggregateType string           `json:"aggregate_type"`
	Version       int              `json:"version"`
	Payload       json.RawMessage  `json:"payload"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Encode renders ev as its wire envelope.
func Encode(ev domain.Event) ([]byte, error) {
	return json.Marshal(Message{
		ID:            ev.ID,
		Type:          ev.Type,
		AggregateID:   ev.AggregateID,
		AggregateType: ev.AggregateType,
		Version:       ev.Version,
		Payload:       ev.Payload,
		CreatedAt:     ev.CreatedAt,
	})
}

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(ctx context.Context, ev domain.Event) error {
	s.logger.InfoContext(ctx, "domain event",
		"event_id", ev.ID,
		"type", ev.Type,
		"aggregate_id", ev.AggregateID,
		"payload", string(ev.Payload),
	)
	return nil
}

// RedisSink publishes events on a Redis Pub/Sub channel.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisSink(client redis.UniversalClient, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if channel == "" {
		channel = "libranexus.events"
	}
	return &RedisSink{client: client, channel: channel}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, ev domain.Event) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
		return fmt.Errorf("publish event %d to %s: %w", ev.ID, s.channel, err)
	}
	return nil
}

// AMQPChannel is the subset of *amqp.Channel the sink uses.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a topic exchange, routed by event type.
type AMQPSink struct {
	conn     *amqp.Connection
	ch       AMQPChannel
	exchange string
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	sink, err := NewAMQPSink(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	sink.conn = conn
	return sink, nil
}

// NewAMQPSink declares exchange on ch and returns a sink publishing to it.
func NewAMQPSink(ch AMQPChannel, exchange string) (*AMQPSink, error) {
	if exchange == "" {
		exchange = "libranexus.events"
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{ch: ch, exchange: exchange}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Publish(ctx context.Context, ev domain.Event) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	err = s.ch.PublishWithContext(ctx, s.exchange, string(ev.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    strconv.FormatInt(ev.ID, 10),
		Timestamp:    ev.CreatedAt,
		Type:         string(ev.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event %d to %s: %w", ev.ID, s.exchange, err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	err := s.ch.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
