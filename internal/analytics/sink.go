package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aegntic/cldcde-search/internal/pubsub"
)

// Sink delivers a batch of events downstream. The buffer does not assume a
// protocol; failure means the whole batch is retried later.
type Sink interface {
	Deliver(ctx context.Context, batch []Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, batch []Event) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// BatchSubject is the subject analytics batches are published on, relative
// to the publisher's SubjectPrefix. The publisher must be configured so the
// final subject lands inside its stream's subject space.
const BatchSubject = "batch"

// PubsubSink delivers batches as a single JSON message per batch over the
// pubsub transport.
type PubsubSink struct {
	publisher pubsub.Publisher
}

// NewPubsubSink creates a sink on top of a pubsub publisher.
func NewPubsubSink(publisher pubsub.Publisher) *PubsubSink {
	return &PubsubSink{publisher: publisher}
}

// Deliver implements Sink.
func (s *PubsubSink) Deliver(ctx context.Context, batch []Event) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode analytics batch: %w", err)
	}
	if err := s.publisher.Publish(ctx, BatchSubject, data); err != nil {
		return fmt.Errorf("failed to publish analytics batch: %w", err)
	}
	return nil
}
