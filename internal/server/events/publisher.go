package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"github.com/dsslabs/docservice/internal/logging"
)

// writeMessages is a seam for testing kafka.Writer.WriteMessages.
var writeMessages = func(ctx context.Context, w *kafka.Writer, msgs ...kafka.Message) error {
	return w.WriteMessages(ctx, msgs...)
}

// Publisher submits lifecycle events for asynchronous delivery. Submission
// never blocks the caller beyond the enqueue; delivery is at-least-once and
// failures are logged, not surfaced.
type Publisher interface {
	Submit(topic string, key string, payload any)
	Close(ctx context.Context) error
}

// KafkaPublisher delivers events through per-topic kafka writers. A single
// dispatcher goroutine drains the queue, which together with key-hash
// partitioning keeps events for one correlation id in order.
type KafkaPublisher struct {
	brokers []string
	logger  logging.Logger

	queue chan envelope
	done  chan struct{}

	mu      sync.Mutex
	writers map[string]*kafka.Writer

	newBackoff func() retry.Backoff
}

type envelope struct {
	topic   string
	key     string
	payload any
}

// queueSize bounds how many undelivered events may be buffered before
// Submit starts dropping (with an error log).
const queueSize = 256

func NewKafkaPublisher(brokers []string, logger logging.Logger) *KafkaPublisher {
	p := &KafkaPublisher{
		brokers: brokers,
		logger:  logger.With("module", "events"),
		queue:   make(chan envelope, queueSize),
		done:    make(chan struct{}),
		writers: make(map[string]*kafka.Writer),
		newBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))
		},
	}
	go p.dispatch()
	return p
}

// Submit enqueues an event for delivery and returns immediately. When the
// queue is full the event is dropped and logged; the ledger remains the
// durable source of truth.
func (p *KafkaPublisher) Submit(topic string, key string, payload any) {
	select {
	case p.queue <- envelope{topic: topic, key: key, payload: payload}:
	default:
		p.logger.Error(context.Background(), "event queue full, dropping event", "topic", topic, "key", key)
	}
}

// Close stops accepting events, waits for the queue to drain (bounded by
// ctx) and closes the underlying writers. Submit must not be called after
// Close.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	close(p.queue)

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *KafkaPublisher) dispatch() {
	defer close(p.done)
	for e := range p.queue {
		p.deliver(context.Background(), e)
	}
}

func (p *KafkaPublisher) deliver(ctx context.Context, e envelope) {
	value, err := json.Marshal(e.payload)
	if err != nil {
		p.logger.Error(ctx, "failed to encode event", "topic", e.topic, "key", e.key, "error", err.Error())
		return
	}

	msg := kafka.Message{Key: []byte(e.key), Value: value}

	err = retry.Do(ctx, p.newBackoff(), func(ctx context.Context) error {
		if err := writeMessages(ctx, p.writer(e.topic), msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		p.logger.Error(ctx, "publish failed", "topic", e.topic, "key", e.key, "error", err.Error())
		return
	}

	p.logger.Debug(ctx, "event published", "topic", e.topic, "key", e.key)
}

func (p *KafkaPublisher) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(p.brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
		p.writers[topic] = w
	}
	return w
}
