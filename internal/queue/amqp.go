package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/magictalent/ai-agent-backend/internal/logging"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes to and consumes from durable RabbitMQ queues named
// after the topic. Failed deliveries are republished with an incremented
// x-retry-count header and the original is acked.
type AMQPQueue struct {
	MaxRetries int

	conn   *amqp.Connection
	ch     *amqp.Channel
	mu     sync.Mutex // amqp.Channel is not safe for concurrent publishes
	logger zerolog.Logger

	// republish defaults to publishRaw; tests replace it.
	republish func(topic string, body []byte, headers amqp.Table) error
}

// DialAMQP connects and opens a channel.
func DialAMQP(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	q := &AMQPQueue{
		MaxRetries: DefaultMaxRetries,
		conn:       conn,
		ch:         ch,
		logger:     logging.Component("queue"),
	}
	q.republish = q.publishRaw
	return q, nil
}

func (q *AMQPQueue) declare(topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return nil
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	if err := q.declare(topic); err != nil {
		return err
	}
	return q.publishRaw(topic, body, amqp.Table{retryHeader: int32(0)})
}

func (q *AMQPQueue) publishRaw(topic string, body []byte, headers amqp.Table) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic until ctx is cancelled or the channel closes.
func (q *AMQPQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if err := q.declare(topic); err != nil {
		return err
	}

	q.mu.Lock()
	msgs, err := q.ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer on %s: %w", topic, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					q.logger.Warn().Str("topic", topic).Msg("delivery channel closed")
					return
				}
				q.handle(ctx, topic, d, handler)
			}
		}
	}()
	return nil
}

func (q *AMQPQueue) handle(ctx context.Context, topic string, d amqp.Delivery, handler Handler) {
	log := q.logger.With().Str("topic", topic).Uint64("delivery_tag", d.DeliveryTag).Logger()

	err := handler(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error().Err(ackErr).Msg("ack failed")
		}
		return
	}

	retries := retryCount(d.Headers)
	switch {
	case errors.Is(err, ErrMalformed):
		log.Warn().Err(err).Msg("dropping malformed message")
	case retries >= q.MaxRetries:
		log.Error().Err(err).Int("retries", retries).Msg("message permanently failed")
	default:
		headers := amqp.Table{}
		for k, v := range d.Headers {
			headers[k] = v
		}
		headers[retryHeader] = int32(retries + 1)
		if pubErr := q.republish(topic, d.Body, headers); pubErr != nil {
			// Let the broker redeliver the original instead.
			log.Error().Err(pubErr).Msg("republish failed, requeueing")
			if nackErr := d.Nack(false, true); nackErr != nil {
				log.Error().Err(nackErr).Msg("nack failed")
			}
			return
		}
		log.Warn().Err(err).Int("retry", retries+1).Msg("message failed, requeued")
	}

	if ackErr := d.Ack(false); ackErr != nil {
		log.Error().Err(ackErr).Msg("ack failed")
	}
}

// retryCount reads x-retry-count, which arrives as whichever integer type
// the publisher used.
func retryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

var _ Queue = (*AMQPQueue)(nil)
