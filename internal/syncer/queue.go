// Package syncer keeps the search index eventually consistent with the
// catalog. It consumes change events, fetches the current snapshot from the
// catalog, and applies the matching upsert or delete to the index client,
// retrying transient failures with capped geometric backoff.
//
// The queue is deliberately single-flight: one drain loop, one event in
// flight. A failing event is retried in place at the head of the queue, so
// everything behind it waits. That head-of-line blocking trades throughput
// for total ordering and makes concurrent writes to the same entity id
// impossible. Operators watch Depth and OldestPendingAge to spot a stuck
// event.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegntic/cldcde-search/internal/catalog"
	"github.com/aegntic/cldcde-search/internal/events"
	"github.com/aegntic/cldcde-search/internal/search"
)

const (
	// DefaultRetryFloor is the initial retry delay.
	DefaultRetryFloor = time.Second
	// DefaultRetryCeiling caps the retry delay.
	DefaultRetryCeiling = 60 * time.Second
	// DefaultRetryFactor is the geometric growth factor.
	DefaultRetryFactor = 2.0
)

// Config holds the syncer configuration.
type Config struct {
	// RetryFloor is the delay after the first failure. Defaults to 1s.
	RetryFloor time.Duration `yaml:"retry_floor"`

	// RetryCeiling caps the backoff. Defaults to 60s.
	RetryCeiling time.Duration `yaml:"retry_ceiling"`

	// RetryFactor multiplies the delay after each failure. Defaults to 2.
	RetryFactor float64 `yaml:"retry_factor"`

	// MaxAttempts drops an event to the dead-letter handler after this
	// many failed attempts. Zero means retry forever, which is the
	// default: the queue never silently loses an event.
	MaxAttempts int `yaml:"max_attempts"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.RetryFloor <= 0 {
		c.RetryFloor = DefaultRetryFloor
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = DefaultRetryCeiling
	}
	if c.RetryFactor < 1 {
		c.RetryFactor = DefaultRetryFactor
	}
}

// Stats is a snapshot of queue counters for observability.
type Stats struct {
	Depth            int           `json:"depth"`
	OldestPendingAge time.Duration `json:"oldestPendingAge"`
	Applied          int64         `json:"applied"`
	Skipped          int64         `json:"skipped"`
	Retries          int64         `json:"retries"`
	DeadLettered     int64         `json:"deadLettered"`
	CurrentDelay     time.Duration `json:"currentDelay"`
}

// pendingEvent wraps a change event with queue bookkeeping.
type pendingEvent struct {
	evt        *events.ChangeEvent
	enqueuedAt time.Time
	attempts   int
}

// Queue applies change events to the index in FIFO order. Construct with
// NewQueue, then Start; Enqueue is safe from any goroutine.
type Queue struct {
	cfg    Config
	store  catalog.Store
	client search.Client
	logger *slog.Logger

	// onDeadLetter receives events dropped after MaxAttempts or events
	// that can never succeed (malformed family or operation).
	onDeadLetter func(*events.ChangeEvent, error)

	mu       sync.Mutex
	pending  []*pendingEvent
	draining bool
	delay    time.Duration
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	applied      atomic.Int64
	skipped      atomic.Int64
	retries      atomic.Int64
	deadLettered atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithDeadLetterHandler installs a callback for events the queue gives up on.
func WithDeadLetterHandler(fn func(*events.ChangeEvent, error)) Option {
	return func(q *Queue) {
		q.onDeadLetter = fn
	}
}

// NewQueue creates a queue applying events from the catalog to the index.
func NewQueue(cfg Config, store catalog.Store, client search.Client, logger *slog.Logger, opts ...Option) *Queue {
	cfg.ApplyDefaults()
	q := &Queue{
		cfg:    cfg,
		store:  store,
		client: client,
		logger: logger.With("component", "syncer"),
		delay:  cfg.RetryFloor,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start makes the queue live. Events enqueued before Start are drained once
// it runs.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("syncer already running")
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	q.mu.Unlock()

	q.logger.Info("syncer started",
		"retryFloor", q.cfg.RetryFloor,
		"retryCeiling", q.cfg.RetryCeiling)

	q.maybeDrain()
	return nil
}

// Stop cancels the drain loop and waits for it to exit. Pending events stay
// queued in memory; callers relying on durability use the pubsub transport's
// redelivery instead.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("syncer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue appends an event and kicks the drain loop if idle. Non-blocking.
func (q *Queue) Enqueue(evt *events.ChangeEvent) {
	if evt == nil {
		return
	}

	q.mu.Lock()
	q.pending = append(q.pending, &pendingEvent{evt: evt, enqueuedAt: time.Now()})
	q.mu.Unlock()

	q.maybeDrain()
}

// BatchEnqueue enqueues one event per id. No atomicity across the batch
// beyond FIFO enqueue order.
func (q *Queue) BatchEnqueue(opType events.OperationType, family catalog.Family, ids []string) {
	for _, id := range ids {
		q.Enqueue(events.NewChangeEvent(opType, string(family), id))
	}
}

// maybeDrain starts the single drain goroutine when the queue is running,
// non-empty, and no drain is already in flight.
func (q *Queue) maybeDrain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running || q.draining || len(q.pending) == 0 {
		return
	}
	q.draining = true
	q.wg.Add(1)
	go q.drainLoop(q.ctx)
}

// drainLoop processes events head-first until the queue empties. On failure
// the event goes back to the head and the loop sleeps for the current delay,
// growing it geometrically up to the ceiling. The loop never advances past a
// failing event.
func (q *Queue) drainLoop(ctx context.Context) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 || ctx.Err() != nil {
			q.draining = false
			q.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		err := q.apply(ctx, item.evt)
		if err == nil {
			q.mu.Lock()
			q.delay = q.cfg.RetryFloor
			q.mu.Unlock()
			continue
		}

		if ctx.Err() != nil {
			// Shutdown interrupted the apply; keep the event.
			q.requeue(item)
			continue
		}

		if !retryable(err) {
			q.deadLetter(item.evt, err)
			continue
		}

		item.attempts++
		if q.cfg.MaxAttempts > 0 && item.attempts >= q.cfg.MaxAttempts {
			q.deadLetter(item.evt, fmt.Errorf("gave up after %d attempts: %w", item.attempts, err))
			continue
		}

		q.requeue(item)
		q.retries.Add(1)

		q.mu.Lock()
		delay := q.delay
		q.delay = nextDelay(q.delay, q.cfg.RetryFactor, q.cfg.RetryCeiling)
		q.mu.Unlock()

		q.logger.Warn("sync failed, retrying head event",
			"eventID", item.evt.EventID,
			"entityID", item.evt.EntityID,
			"attempts", item.attempts,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
}

// requeue puts an event back at the head so it keeps its position.
func (q *Queue) requeue(item *pendingEvent) {
	q.mu.Lock()
	q.pending = append([]*pendingEvent{item}, q.pending...)
	q.mu.Unlock()
}

func (q *Queue) deadLetter(evt *events.ChangeEvent, err error) {
	q.deadLettered.Add(1)
	q.logger.Error("dropping unprocessable event",
		"eventID", evt.EventID,
		"entityID", evt.EntityID,
		"error", err)
	if q.onDeadLetter != nil {
		q.onDeadLetter(evt, err)
	}
}

// apply resolves one event against the catalog and the index.
func (q *Queue) apply(ctx context.Context, evt *events.ChangeEvent) error {
	family, err := catalog.ParseFamily(evt.Family)
	if err != nil {
		return fmt.Errorf("%w: %v", search.ErrInvalidInput, err)
	}

	switch evt.Type {
	case events.OperationDelete:
		// Delete of a missing id is success at the client, so replays
		// are harmless.
		if err := q.client.Delete(ctx, family, evt.EntityID); err != nil {
			return err
		}
		q.applied.Add(1)
		return nil

	case events.OperationCreate, events.OperationUpdate:
		entity, err := q.store.FetchEntity(ctx, family, evt.EntityID)
		if errors.Is(err, catalog.ErrNotFound) {
			// Deleted before we synced it. The delete event behind
			// this one cleans up the index.
			q.skipped.Add(1)
			q.logger.Debug("entity gone before sync, skipping",
				"family", family,
				"entityID", evt.EntityID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching %s/%s: %w", family, evt.EntityID, err)
		}
		if err := q.client.Upsert(ctx, family, entity); err != nil {
			return fmt.Errorf("upserting %s/%s: %w", family, evt.EntityID, err)
		}
		q.applied.Add(1)
		return nil

	default:
		return fmt.Errorf("%w: operation %q", search.ErrInvalidInput, evt.Type)
	}
}

// Depth returns the number of pending events.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// OldestPendingAge returns how long the head event has been waiting, zero
// when the queue is empty. The primary signal for a stuck poison event.
func (q *Queue) OldestPendingAge() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0
	}
	return time.Since(q.pending[0].enqueuedAt)
}

// CurrentDelay returns the delay the next failure will sleep for.
func (q *Queue) CurrentDelay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delay
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	depth := len(q.pending)
	var oldest time.Duration
	if depth > 0 {
		oldest = time.Since(q.pending[0].enqueuedAt)
	}
	delay := q.delay
	q.mu.Unlock()

	return Stats{
		Depth:            depth,
		OldestPendingAge: oldest,
		Applied:          q.applied.Load(),
		Skipped:          q.skipped.Load(),
		Retries:          q.retries.Load(),
		DeadLettered:     q.deadLettered.Load(),
		CurrentDelay:     delay,
	}
}

// retryable reports whether the queue should keep retrying. Malformed input
// can never succeed; everything else is assumed transient, which is the
// no-data-loss default.
func retryable(err error) bool {
	return !errors.Is(err, search.ErrInvalidInput)
}

func nextDelay(current time.Duration, factor float64, ceiling time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > ceiling {
		next = ceiling
	}
	return next
}
