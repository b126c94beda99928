// Package bus abstracts the event substrate. Core components depend only on
// the Bus interface; the Kafka implementation carries production traffic and
// the in-process one backs tests. Delivery is at-least-once: handlers must
// tolerate duplicates.
package bus

import "context"

// Handler processes one delivered payload. A non-nil error leaves the
// message eligible for redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Bus fans events out to subscribers. Each subscriber names its own group:
// subscribers with distinct groups each receive every message on the topic,
// which is how one ingestion event reaches all three resize workers.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic, group string, h Handler)
}
