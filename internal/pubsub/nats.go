package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSProvider implements Provider on NATS JetStream.
type NATSProvider struct {
	url    string
	logger *slog.Logger

	nc *nats.Conn
	js jetstream.JetStream
}

// NewNATSProvider creates a provider for the given NATS URL. Connect must be
// called before creating publishers or consumers.
func NewNATSProvider(url string, logger *slog.Logger) *NATSProvider {
	return &NATSProvider{
		url:    url,
		logger: logger.With("component", "pubsub"),
	}
}

// Connect establishes the NATS connection and JetStream context.
func (p *NATSProvider) Connect(_ context.Context) error {
	nc, err := nats.Connect(p.url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to nats at %s: %w", p.url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	p.nc = nc
	p.js = js
	p.logger.Info("connected to nats", "url", p.url)
	return nil
}

// NewPublisher implements Provider. The stream is created on first use.
func (p *NATSProvider) NewPublisher(opts PublisherOptions) (Publisher, error) {
	if p.js == nil {
		return nil, fmt.Errorf("nats provider is not connected")
	}

	if opts.StreamName != "" {
		subjects := []string{opts.StreamName + ".>"}
		if opts.SubjectPrefix != "" && opts.SubjectPrefix != opts.StreamName {
			subjects = []string{opts.SubjectPrefix + ".>"}
		}
		_, err := p.js.CreateOrUpdateStream(context.Background(), jetstream.StreamConfig{
			Name:     opts.StreamName,
			Subjects: subjects,
			Storage:  jetstream.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to ensure stream %s: %w", opts.StreamName, err)
		}
	}

	return &natsPublisher{js: p.js, opts: opts}, nil
}

// NewConsumer implements Provider.
func (p *NATSProvider) NewConsumer(opts ConsumerOptions) (Consumer, error) {
	if p.js == nil {
		return nil, fmt.Errorf("nats provider is not connected")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = DefaultChannelBufSize
	}
	return &natsConsumer{js: p.js, opts: opts, logger: p.logger}, nil
}

// Close drains the NATS connection.
func (p *NATSProvider) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}

type natsPublisher struct {
	js   jetstream.JetStream
	opts PublisherOptions
}

func (p *natsPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	start := time.Now()

	if p.opts.SubjectPrefix != "" {
		subject = p.opts.SubjectPrefix + "." + subject
	}

	_, err := p.js.Publish(ctx, subject, data)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(subject, err, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *natsPublisher) Close() error {
	return nil
}

type natsConsumer struct {
	js     jetstream.JetStream
	opts   ConsumerOptions
	logger *slog.Logger
}

func (c *natsConsumer) Subscribe(ctx context.Context) (<-chan Message, error) {
	filterSubject := c.opts.FilterSubject
	if filterSubject == "" {
		filterSubject = c.opts.StreamName + ".>"
	}

	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.opts.StreamName,
		Subjects: []string{filterSubject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	consumerName := c.opts.ConsumerName
	if consumerName == "" {
		consumerName = "consumer"
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: filterSubject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	msgCh := make(chan Message, c.opts.ChannelBufSize)
	var closing atomic.Bool

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if closing.Load() {
			msg.Nak()
			return
		}
		select {
		case msgCh <- natsMessage{msg}:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		close(msgCh)
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	c.logger.Info("consumer subscribed",
		"stream", c.opts.StreamName,
		"consumer", consumerName)

	go func() {
		<-ctx.Done()
		closing.Store(true)
		cc.Stop()
		close(msgCh)
	}()

	return msgCh, nil
}

type natsMessage struct {
	msg jetstream.Msg
}

func (m natsMessage) Data() []byte    { return m.msg.Data() }
func (m natsMessage) Subject() string { return m.msg.Subject() }
func (m natsMessage) Ack() error      { return m.msg.Ack() }
func (m natsMessage) Nak() error      { return m.msg.Nak() }
