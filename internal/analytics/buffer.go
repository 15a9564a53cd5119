package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCapacity is the buffer size that triggers a synchronous flush.
	DefaultCapacity = 1000
	// DefaultFlushInterval bounds the staleness of delivered analytics
	// under low traffic.
	DefaultFlushInterval = 60 * time.Second
)

// Config holds the analytics buffer configuration.
type Config struct {
	// Capacity is the number of buffered events that triggers a
	// synchronous flush. Defaults to DefaultCapacity.
	Capacity int `yaml:"capacity"`

	// FlushInterval is the background flush period. Defaults to
	// DefaultFlushInterval.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Recorded      int64 `json:"recorded"`
	Delivered     int64 `json:"delivered"`
	FailedFlushes int64 `json:"failedFlushes"`
	Buffered      int   `json:"buffered"`
}

// Buffer accumulates events and flushes them to the sink in batches, either
// when the capacity threshold is reached (synchronously, as backpressure) or
// on the background timer. A failed batch is pushed back onto the front of
// the buffer so chronological order is preserved relative to events recorded
// after the failure. If the sink stays down the buffer grows without bound;
// that is the accepted failure mode and is surfaced through Stats.
type Buffer struct {
	cfg     Config
	sink    Sink
	logger  *slog.Logger
	onError func(error)

	mu     sync.Mutex
	events []Event

	// flushMu serializes deliveries so re-queued batches cannot interleave.
	flushMu sync.Mutex

	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stateMu  sync.Mutex

	recorded      atomic.Int64
	delivered     atomic.Int64
	failedFlushes atomic.Int64
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithErrorHandler installs a callback invoked with flush errors. Errors are
// logged regardless.
func WithErrorHandler(fn func(error)) Option {
	return func(b *Buffer) {
		b.onError = fn
	}
}

// NewBuffer creates a buffer delivering to the given sink.
func NewBuffer(cfg Config, sink Sink, logger *slog.Logger, opts ...Option) *Buffer {
	cfg.ApplyDefaults()
	b := &Buffer{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "analytics"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the background timer flush. Calling Start twice is an error.
func (b *Buffer) Start(ctx context.Context) error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if b.running {
		return errors.New("analytics buffer already running")
	}

	flushCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.flushLoop(flushCtx)

	b.logger.Info("analytics buffer started",
		"capacity", b.cfg.Capacity,
		"flushInterval", b.cfg.FlushInterval)
	return nil
}

func (b *Buffer) flushLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// Record appends an event. When the buffer reaches capacity the flush runs
// synchronously before Record returns, providing backpressure instead of
// unbounded growth. Safe for concurrent callers.
func (b *Buffer) Record(event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	b.events = append(b.events, event)
	b.recorded.Add(1)

	var batch []Event
	if len(b.events) >= b.cfg.Capacity {
		// Swap under the same lock as the append so exactly one caller
		// observes the threshold crossing.
		batch = b.events
		b.events = nil
	}
	b.mu.Unlock()

	if batch != nil {
		b.deliver(context.Background(), batch)
	}
	return nil
}

// Flush swaps out the current buffer and delivers it. Failed batches are
// re-inserted at the head of the live buffer.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	b.deliver(ctx, batch)
}

func (b *Buffer) deliver(ctx context.Context, batch []Event) {
	if len(batch) == 0 {
		return
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if err := b.sink.Deliver(ctx, batch); err != nil {
		b.failedFlushes.Add(1)

		// Failed events go back to the front: they predate anything
		// recorded since the swap.
		b.mu.Lock()
		b.events = append(batch, b.events...)
		b.mu.Unlock()

		b.logger.Error("analytics flush failed, batch re-queued",
			"batchSize", len(batch),
			"error", err)
		if b.onError != nil {
			b.onError(err)
		}
		return
	}

	b.delivered.Add(int64(len(batch)))
}

// Destroy performs a final flush and stops the timer. Must be called on
// shutdown so the last partial batch is not lost.
func (b *Buffer) Destroy(ctx context.Context) {
	b.stateMu.Lock()
	if b.running {
		b.cancel()
		b.running = false
	}
	b.stateMu.Unlock()

	b.wg.Wait()
	b.Flush(ctx)
	b.logger.Info("analytics buffer destroyed")
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	buffered := len(b.events)
	b.mu.Unlock()

	return Stats{
		Recorded:      b.recorded.Load(),
		Delivered:     b.delivered.Load(),
		FailedFlushes: b.failedFlushes.Load(),
		Buffered:      buffered,
	}
}
