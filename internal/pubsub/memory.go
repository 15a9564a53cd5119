package pubsub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned when operating on a closed provider.
	ErrClosed = errors.New("pubsub provider is closed")

	// ErrPatternSubscribed is returned when a subject pattern already has
	// a subscriber on the memory provider.
	ErrPatternSubscribed = errors.New("pattern already has a subscriber")
)

// MemoryProvider routes messages between in-process publishers and consumers.
// It mirrors the delivery semantics of the NATS provider closely enough for
// tests: buffered channels, explicit ack, Nak redelivery.
type MemoryProvider struct {
	mu            sync.RWMutex
	subscriptions map[string]*memorySubscription
	closed        atomic.Bool
}

type memorySubscription struct {
	pattern string
	msgCh   chan Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		subscriptions: make(map[string]*memorySubscription),
	}
}

// NewPublisher implements Provider.
func (p *MemoryProvider) NewPublisher(opts PublisherOptions) (Publisher, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	return &memoryPublisher{provider: p, opts: opts}, nil
}

// NewConsumer implements Provider.
func (p *MemoryProvider) NewConsumer(opts ConsumerOptions) (Consumer, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	return &memoryConsumer{provider: p, opts: opts}, nil
}

// Close shuts down all subscriptions.
func (p *MemoryProvider) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subscriptions {
		sub.cancel()
		close(sub.msgCh)
	}
	p.subscriptions = nil
	return nil
}

func (p *MemoryProvider) publish(ctx context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for pattern, sub := range p.subscriptions {
		if !matchSubject(pattern, subject) {
			continue
		}
		msg := &memoryMessage{
			data:       data,
			subject:    subject,
			redelivery: sub.msgCh,
			subCtx:     sub.ctx,
		}
		select {
		case sub.msgCh <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.ctx.Done():
			// Subscription gone, skip.
		}
	}
	return nil
}

func (p *MemoryProvider) subscribe(ctx context.Context, pattern string, bufSize int) (<-chan Message, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.subscriptions[pattern] != nil {
		return nil, ErrPatternSubscribed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySubscription{
		pattern: pattern,
		msgCh:   make(chan Message, bufSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	p.subscriptions[pattern] = sub

	go func() {
		<-subCtx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.subscriptions != nil && p.subscriptions[pattern] == sub {
			delete(p.subscriptions, pattern)
			close(sub.msgCh)
		}
	}()

	return sub.msgCh, nil
}

type memoryPublisher struct {
	provider *MemoryProvider
	opts     PublisherOptions
	closed   atomic.Bool
}

func (p *memoryPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.opts.SubjectPrefix != "" {
		subject = p.opts.SubjectPrefix + "." + subject
	}
	err := p.provider.publish(ctx, subject, data)
	if p.opts.OnPublish != nil {
		p.opts.OnPublish(subject, err, 0)
	}
	return err
}

func (p *memoryPublisher) Close() error {
	p.closed.Store(true)
	return nil
}

type memoryConsumer struct {
	provider *MemoryProvider
	opts     ConsumerOptions
}

func (c *memoryConsumer) Subscribe(ctx context.Context) (<-chan Message, error) {
	pattern := c.opts.FilterSubject
	if pattern == "" {
		if c.opts.StreamName != "" {
			pattern = c.opts.StreamName + ".>"
		} else {
			pattern = ">"
		}
	}

	bufSize := c.opts.ChannelBufSize
	if bufSize <= 0 {
		bufSize = DefaultChannelBufSize
	}

	return c.provider.subscribe(ctx, pattern, bufSize)
}

type memoryMessage struct {
	data       []byte
	subject    string
	redelivery chan Message
	subCtx     context.Context

	mu    sync.Mutex
	done  bool
	naked bool
}

func (m *memoryMessage) Data() []byte    { return m.data }
func (m *memoryMessage) Subject() string { return m.subject }

func (m *memoryMessage) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = true
	return nil
}

// Nak requeues the message without blocking. A full channel drops the
// redelivery, matching broker behavior under backpressure.
func (m *memoryMessage) Nak() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.naked = true
	m.mu.Unlock()

	defer func() {
		recover() // Channel may be closed by an unsubscribe race.
	}()

	select {
	case m.redelivery <- m:
	case <-m.subCtx.Done():
	default:
	}
	return nil
}

// matchSubject checks a subject against a NATS-style pattern: "*" matches a
// single token, ">" matches one or more trailing tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	for i, p := range patternParts {
		if p == ">" {
			return i < len(subjectParts)
		}
		if i >= len(subjectParts) {
			return false
		}
		if p != "*" && p != subjectParts[i] {
			return false
		}
	}
	return len(patternParts) == len(subjectParts)
}
