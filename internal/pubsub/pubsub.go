// Package pubsub abstracts the message transport carrying catalog change
// events and analytics batches. The NATS JetStream provider backs production
// deployments; the memory provider backs tests and single-process mode.
package pubsub

import (
	"context"
	"io"
	"time"
)

// Message is a received message with acknowledgment controls.
type Message interface {
	// Data returns the raw payload.
	Data() []byte

	// Subject returns the subject the message was published on.
	Subject() string

	// Ack acknowledges successful processing.
	Ack() error

	// Nak signals processing failure, requesting redelivery.
	Nak() error
}

// Publisher publishes messages to a stream.
type Publisher interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases resources.
	Close() error
}

// Consumer consumes messages from a stream.
type Consumer interface {
	// Subscribe starts consuming and returns a channel. The channel is
	// closed when the context is cancelled. The caller must Ack or Nak
	// every message.
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// Provider creates publishers and consumers over one transport so the broker
// can be swapped without touching callers.
type Provider interface {
	io.Closer

	NewPublisher(opts PublisherOptions) (Publisher, error)
	NewConsumer(opts ConsumerOptions) (Consumer, error)
}

// PublisherOptions configures publisher behavior.
type PublisherOptions struct {
	// StreamName is the stream to publish into.
	StreamName string

	// SubjectPrefix is prepended to all subjects.
	SubjectPrefix string

	// OnPublish is called after each publish attempt, for metrics.
	OnPublish func(subject string, err error, latency time.Duration)
}

// ConsumerOptions configures consumer behavior.
type ConsumerOptions struct {
	// StreamName is the stream to consume from.
	StreamName string

	// ConsumerName is the durable consumer name.
	ConsumerName string

	// FilterSubject filters messages by subject pattern.
	FilterSubject string

	// ChannelBufSize is the buffer size for the delivery channel.
	// Defaults to 100.
	ChannelBufSize int
}

// DefaultChannelBufSize is applied when ConsumerOptions leaves the buffer
// size unset.
const DefaultChannelBufSize = 100
