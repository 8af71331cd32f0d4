// Package queue abstracts the message broker between this service and the
// external AI worker. Delivery is at least once: a message stays visible
// for redelivery until it is explicitly deleted, and consumers must treat
// every message as potentially duplicated.
package queue

import (
	"context"
	"time"
)

// Message is one delivery from a queue. ID identifies the delivery, not
// the payload; the same body redelivered later may carry the same ID.
type Message struct {
	ID   string
	Body []byte
}

// Queue is a named at-least-once message channel.
type Queue interface {
	// Publish enqueues body and returns the broker-assigned message id.
	Publish(ctx context.Context, body []byte) (string, error)

	// Receive returns up to max pending messages, waiting at most wait
	// for one to arrive. An empty slice and nil error means the wait
	// elapsed with nothing to deliver.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Delete acknowledges a received message so it is never redelivered.
	Delete(ctx context.Context, id string) error
}
