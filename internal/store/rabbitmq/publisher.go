package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/autoreply-agent/internal/webhook"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// declareTopology declares the main queue and its dead-letter queue.
// Publisher and consumer both call it so either may start first.
func declareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		return err
	}
	return nil
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishInbound(ctx context.Context, msg webhook.InboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			Body:          body,
			Timestamp:     time.Now(),
			MessageId:     msg.MessageID,
			CorrelationId: msg.DeliveryID,
		},
	)
}

// Ingest publishes a webhook batch in order. It stops at the first failure.
func (p *Publisher) Ingest(ctx context.Context, msgs []webhook.InboundMessage) error {
	for i, m := range msgs {
		if err := p.PublishInbound(ctx, m); err != nil {
			return fmt.Errorf("publish %d/%d: %w", i+1, len(msgs), err)
		}
	}
	return nil
}

var ErrBadMessage = errors.New("rabbitmq: malformed inbound message")

// DecodeInbound parses a queue body and rejects messages the pipeline could
// never process.
func DecodeInbound(body []byte) (webhook.InboundMessage, error) {
	var m webhook.InboundMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if !m.Platform.Valid() || m.SenderID == "" || m.Text == "" {
		return m, fmt.Errorf("%w: platform=%q sender=%q", ErrBadMessage, m.Platform, m.SenderID)
	}
	return m, nil
}
