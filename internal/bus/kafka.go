package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

const maxBackoff = time.Minute

// Kafka is the production Bus. One writer per published topic, one consumer
// group reader per subscription; the group name carries the subscriber's own
// identity, so two subscriptions to the same topic each see every message.
// A message is committed only after its handler succeeds or its retries are
// exhausted, so offsets never pass an unprocessed message.
type Kafka struct {
	brokers []string
	groupID string

	maxAttempts int
	baseDelay   time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	subs    []subscription
}

type subscription struct {
	topic   string
	group   string
	handler Handler
}

func NewKafka(brokers []string, groupID string) *Kafka {
	return &Kafka{
		brokers:     brokers,
		groupID:     groupID,
		maxAttempts: 5,
		baseDelay:   500 * time.Millisecond,
		writers:     make(map[string]*kafka.Writer),
	}
}

func (k *Kafka) Publish(ctx context.Context, topic string, payload []byte) error {
	const op = "bus.Publish"
	if err := k.writer(topic).WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (k *Kafka) writer(topic string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	w, ok := k.writers[topic]
	if !ok {
		w = kafka.NewWriter(kafka.WriterConfig{
			Brokers: k.brokers,
			Topic:   topic,
		})
		k.writers[topic] = w
	}
	return w
}

// Subscribe registers a handler under its own group identity. Consumption
// starts when Run is called.
func (k *Kafka) Subscribe(topic, group string, h Handler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.subs = append(k.subs, subscription{topic: topic, group: group, handler: h})
}

// consumerGroup names the Kafka consumer group for one subscription. The
// subscriber's group is part of the name: distinct subscribers to one topic
// land in distinct groups and each get the full stream.
func (k *Kafka) consumerGroup(sub subscription) string {
	return k.groupID + "-" + sub.group
}

// Run consumes all registered subscriptions until ctx is canceled.
func (k *Kafka) Run(ctx context.Context) error {
	k.mu.Lock()
	subs := make([]subscription, len(k.subs))
	copy(subs, k.subs)
	k.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers: k.brokers,
				Topic:   sub.topic,
				GroupID: k.consumerGroup(sub),
			})
			defer reader.Close()
			return k.consumeLoop(ctx, sub, reader)
		})
	}
	return g.Wait()
}

// messageSource is the slice of kafka.Reader the consume loop needs.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (k *Kafka) consumeLoop(ctx context.Context, sub subscription, src messageSource) error {
	for {
		msg, err := src.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[bus] error fetching from %s: %v", sub.topic, err)
			continue
		}

		if !k.process(ctx, sub, msg) {
			// Shutdown mid-retry: leave the message uncommitted so the
			// group redelivers it on restart.
			return nil
		}

		// Commits are high-water marks: committing here is safe only
		// because process never returns true with the message unhandled
		// short of exhausted retries.
		if err := src.CommitMessages(ctx, msg); err != nil {
			log.Printf("[bus] commit error on %s: %v", sub.topic, err)
		}
	}
}

// process runs the handler, retrying in place with exponential backoff so a
// transient failure never lets a later commit skip this message. It returns
// true when the message may be committed: the handler succeeded, or the
// retry budget is spent and the message is dropped with a loud log line.
// A false return means shutdown interrupted the retries.
func (k *Kafka) process(ctx context.Context, sub subscription, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := sub.handler(ctx, msg.Value)
		if err == nil {
			return true
		}
		if attempt >= k.maxAttempts {
			log.Printf("[bus] giving up on message from %s after %d attempts: %v",
				sub.topic, attempt, err)
			return true
		}

		delay := backoff(k.baseDelay, attempt)
		log.Printf("[bus] handler error on %s (attempt %d/%d), retrying in %s: %v",
			sub.topic, attempt, k.maxAttempts, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var firstErr error
	for _, w := range k.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
