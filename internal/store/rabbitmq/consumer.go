package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
	"github.com/suPer8Hu/autoreply-agent/internal/webhook"
)

type Action int

const (
	ActionAck Action = iota
	ActionDeadLetter
)

// Disposition decides what happens to a queue message once its lane is done
// with it. Retries already happened in the lane (webhook.Retrier), so a
// failure that is still retryable goes to the DLQ; requeueing it would let
// later messages of the conversation overtake it. Failures after something
// was stored are acked, since a redelivery would be dropped as a duplicate.
func Disposition(res webhook.Result) Action {
	if res.Err == nil {
		return ActionAck
	}
	if res.Step == "validate" || webhook.Retryable(res) {
		return ActionDeadLetter
	}
	return ActionAck
}

type Submitter interface {
	Submit(msg webhook.InboundMessage, done func(webhook.Result)) error
}

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
}

func NewConsumer(url, queue string, concurrency int) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, concurrency: concurrency}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run hands deliveries to sub until ctx is done. Messages of one conversation
// keep their order because sub serializes them per key; prefetch caps how many
// are in flight.
func (c *Consumer) Run(ctx context.Context, sub Submitter) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	logx.Info().Str("queue", c.queue).Int("concurrency", c.concurrency).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			logx.Info().Msg("worker shutting down")
			return nil

		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			c.handle(d, sub)
		}
	}
}

func (c *Consumer) handle(d amqp.Delivery, sub Submitter) {
	msg, err := DecodeInbound(d.Body)
	if err != nil {
		logx.Warn().Err(err).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}

	err = sub.Submit(msg, func(res webhook.Result) {
		switch Disposition(res) {
		case ActionAck:
			if err := d.Ack(false); err != nil {
				logx.Error().Err(err).Str("delivery_id", msg.DeliveryID).Msg("ack failed")
			}
		case ActionDeadLetter:
			logx.Warn().Err(res.Err).Str("step", res.Step).Str("delivery_id", msg.DeliveryID).Msg("dead-lettering message")
			_ = d.Nack(false, false)
		}
	})
	if err != nil {
		// dispatcher closed: let another worker take it
		_ = d.Nack(false, true)
	}
}
