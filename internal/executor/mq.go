package executor

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"chronos/internal/models"
)

type mqPayload struct {
	Exchange    string `json:"exchange,omitempty"`
	RoutingKey  string `json:"routing_key"`
	Body        string `json:"body"`
	ContentType string `json:"content_type,omitempty"`
}

// MQExecutor publishes a message to RabbitMQ as described by the job
// payload.
type MQExecutor struct {
	channel *amqp.Channel
}

// NewMQExecutor dials the broker and opens a publishing channel.
func NewMQExecutor(url string) (*MQExecutor, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &MQExecutor{channel: ch}, nil
}

func (e *MQExecutor) Execute(ctx context.Context, job *models.Job, run *models.JobRun) error {
	var p mqPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return Fail(TagValidationError, "invalid message-queue payload: %v", err)
	}
	if p.RoutingKey == "" {
		return Fail(TagValidationError, "message-queue payload requires routing_key")
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	err := e.channel.PublishWithContext(ctx, p.Exchange, p.RoutingKey, false, false, amqp.Publishing{
		ContentType: contentType,
		Body:        []byte(p.Body),
	})
	if err != nil {
		return Fail(TagConnectionError, "publish failed: %v", err)
	}
	return nil
}
