package syncer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aegntic/cldcde-search/internal/events"
	"github.com/aegntic/cldcde-search/internal/pubsub"
)

// Subscriber bridges a pubsub consumer into the queue. It unmarshals change
// events off the wire, enqueues them, and acks. Malformed payloads are acked
// too: redelivery cannot fix a parse error, so they are logged and dropped.
type Subscriber struct {
	consumer pubsub.Consumer
	queue    *Queue
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSubscriber wires a consumer to a queue.
func NewSubscriber(consumer pubsub.Consumer, queue *Queue, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		consumer: consumer,
		queue:    queue,
		logger:   logger.With("component", "syncer.subscriber"),
	}
}

// Start begins consuming until Stop or context cancellation.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	ch, err := s.consumer.Subscribe(ctx)
	if err != nil {
		s.cancel()
		return err
	}
	s.running = true

	s.wg.Add(1)
	go s.loop(ch)
	return nil
}

// Stop cancels the subscription and waits for the loop to drain.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscriber) loop(ch <-chan pubsub.Message) {
	defer s.wg.Done()

	for msg := range ch {
		evt, err := events.UnmarshalChangeEvent(msg.Data())
		if err != nil {
			s.logger.Error("dropping malformed change event",
				"subject", msg.Subject(),
				"error", err)
			if ackErr := msg.Ack(); ackErr != nil {
				s.logger.Warn("ack failed", "error", ackErr)
			}
			continue
		}

		// Ack before the apply completes: ordering and retry are owned
		// by the in-process queue, and a redelivered duplicate would
		// only reorder events behind the head.
		s.queue.Enqueue(evt)
		if err := msg.Ack(); err != nil {
			s.logger.Warn("ack failed",
				"eventID", evt.EventID,
				"error", err)
		}
	}
}
