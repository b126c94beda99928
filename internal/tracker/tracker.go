// Package tracker is the completion aggregator: it merges the three
// asynchronous, possibly-reordered, possibly-duplicated completion events
// per correlationId into one terminal decision.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"imagepipeline/internal/bus"
	"imagepipeline/internal/models"
)

// StatusStore is the backing record per correlationId. Implementations must
// make MarkComplete atomic under concurrent calls for the same correlationId
// (a field-level set, never read-modify-write of the whole record), and
// ClaimTerminal must succeed at most once per correlationId.
type StatusStore interface {
	// MarkComplete sets the flag for the event's variant, creating the record
	// on first sight. It returns the post-merge status and whether the flag
	// was already set (a duplicate delivery).
	MarkComplete(ctx context.Context, event models.CompletionEvent) (models.ProcessingStatus, bool, error)
	// ClaimTerminal sets completedAt if all three flags are true and it is
	// not yet set. Exactly one caller per correlationId wins.
	ClaimTerminal(ctx context.Context, correlationID string, at time.Time) (bool, error)
	// ClaimNotify flips the notified flag from false to true for a terminal
	// row. Exactly one concurrent caller wins the right to publish the
	// terminal notification.
	ClaimNotify(ctx context.Context, correlationID string) (bool, error)
	// ResetNotify clears the notified flag after a failed publish, so the
	// next redelivery retries the notification.
	ResetNotify(ctx context.Context, correlationID string) error
	GetStatus(ctx context.Context, correlationID string) (models.ProcessingStatus, error)
}

// Tracker subscribes to the three completion topics and drives the
// Empty -> Partial -> Terminal state machine through the StatusStore.
// The terminal transition fires exactly once per correlationId; the
// notification is deduplicated through the notified flag and stays
// retryable until a publish succeeds.
type Tracker struct {
	store StatusStore
	bus   bus.Bus
}

func New(store StatusStore, b bus.Bus) *Tracker {
	return &Tracker{store: store, bus: b}
}

// Register subscribes the tracker to all three completion topics.
func (t *Tracker) Register() {
	for _, kind := range models.Variants() {
		t.bus.Subscribe(models.CompletionTopic(kind), "completion-tracker", t.handle)
	}
}

func (t *Tracker) handle(ctx context.Context, payload []byte) error {
	var event models.CompletionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[tracker] dropping malformed completion event: %v", err)
		return nil
	}
	return t.Record(ctx, event)
}

// Record merges one completion event. Duplicate (correlationId, resizeType)
// pairs are no-ops; timestamp differences between duplicates are ignored.
func (t *Tracker) Record(ctx context.Context, event models.CompletionEvent) error {
	const op = "tracker.Record"

	status, alreadySet, err := t.store.MarkComplete(ctx, event)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}

	if alreadySet {
		log.Printf("[tracker] duplicate completion ignored: correlationId=%s variant=%s",
			event.CorrelationID, event.ResizeType)
	} else {
		log.Printf("[tracker] recorded completion: correlationId=%s variant=%s",
			event.CorrelationID, event.ResizeType)
	}

	if !status.AllComplete() {
		log.Printf("[tracker] waiting: correlationId=%s remaining=%v",
			event.CorrelationID, status.Remaining())
		return nil
	}

	now := time.Now().UTC()
	claimed, err := t.store.ClaimTerminal(ctx, event.CorrelationID, now)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if claimed {
		status.CompletedAt = &now
		log.Printf("[tracker] all processing completed: correlationId=%s", event.CorrelationID)
	} else if status.CompletedAt == nil {
		// Another delivery won the terminal transition; pick up its timestamp.
		status, err = t.store.GetStatus(ctx, event.CorrelationID)
		if err != nil {
			return fmt.Errorf("%s: %v", op, err)
		}
	}

	// The terminal transition and the notification are claimed separately:
	// if the publish fails after the row turned terminal, the notified flag
	// stays clear and the next redelivery retries the notification.
	notify, err := t.store.ClaimNotify(ctx, event.CorrelationID)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if !notify {
		return nil
	}

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if err := t.bus.Publish(ctx, models.TopicProcessingComplete, data); err != nil {
		if resetErr := t.store.ResetNotify(ctx, event.CorrelationID); resetErr != nil {
			log.Printf("[tracker] failed to reset notify claim: correlationId=%s: %v",
				event.CorrelationID, resetErr)
		}
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}
