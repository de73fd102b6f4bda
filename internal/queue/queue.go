package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/magictalent/ai-agent-backend/internal/logging"
)

// TopicSequenceStarts carries one StartSequenceRequest per message.
const TopicSequenceStarts = "sequence_starts"

const DefaultMaxRetries = 3

// ErrMalformed marks a message that can never succeed; it is dropped
// without retry.
var ErrMalformed = errors.New("malformed message")

// Handler processes one JSON message body.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// InMemoryQueue delivers in process with retry. Payloads are JSON encoded
// so handlers see the same bytes they would from a broker.
type InMemoryQueue struct {
	MaxRetries int
	Backoff    time.Duration

	mu       sync.Mutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		MaxRetries: DefaultMaxRetries,
		Backoff:    500 * time.Millisecond,
		handlers:   make(map[string][]Handler),
		logger:     logging.Component("queue"),
	}
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(context.WithoutCancel(ctx), topic, handler, body)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(ctx context.Context, topic string, handler Handler, body []byte) {
	defer q.wg.Done()

	for attempt := 0; ; attempt++ {
		err := handler(ctx, body)
		if err == nil {
			return
		}
		if errors.Is(err, ErrMalformed) {
			q.logger.Warn().Err(err).Str("topic", topic).Msg("dropping malformed message")
			return
		}
		if attempt >= q.MaxRetries {
			q.logger.Error().Err(err).Str("topic", topic).Int("attempts", attempt+1).Msg("message permanently failed")
			return
		}
		q.logger.Warn().Err(err).Str("topic", topic).Int("attempt", attempt+1).Msg("message failed, retrying")
		// Linear backoff before retry
		time.Sleep(time.Duration(attempt+1) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published message has been handled.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

func (q *InMemoryQueue) Close() error {
	q.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
