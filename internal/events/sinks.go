package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogSink writes every event to the structured log. Always registered so
// lifecycle history is visible even without external infrastructure.
type LogSink struct {
	Logger *zap.Logger
}

func (s *LogSink) Deliver(e Event) error {
	s.Logger.Info("lifecycle event",
		zap.String("type", string(e.Type)),
		zap.String("job_id", e.JobID),
		zap.String("run_id", e.RunID),
		zap.Int("attempt", e.Attempt),
		zap.String("reason", e.Reason))
	return nil
}

// RedisSink appends events to a Redis stream for external consumers.
type RedisSink struct {
	client *redis.Client
	stream string
}

func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	if stream == "" {
		stream = "chronos:events"
	}
	return &RedisSink{client: client, stream: stream}
}

func (s *RedisSink) Deliver(e Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"event": payload},
	}).Err()
}

// AMQPSink publishes events to a RabbitMQ exchange.
type AMQPSink struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPSink dials the broker and declares a durable direct exchange for
// lifecycle events.
func NewAMQPSink(url, exchange, routingKey string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPSink{channel: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (s *AMQPSink) Deliver(e Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.channel.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}
