package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegntic/cldcde-search/internal/pubsub"
)

func TestPubsubSinkDeliversInsideStreamSubjects(t *testing.T) {
	provider := pubsub.NewMemoryProvider()
	defer provider.Close()

	// Same wiring as production: uppercase stream, lowercase subject space.
	pub, err := provider.NewPublisher(pubsub.PublisherOptions{
		StreamName:    "ANALYTICS",
		SubjectPrefix: "analytics",
	})
	require.NoError(t, err)

	consumer, err := provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:    "ANALYTICS",
		ConsumerName:  "collector",
		FilterSubject: "analytics.>",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := consumer.Subscribe(ctx)
	require.NoError(t, err)

	sink := NewPubsubSink(pub)
	batch := []Event{
		NewSearchEvent("sess-1", "git", 3, 12*time.Millisecond),
		NewClickEvent("sess-1", "git", "ext-1", "extensions", 1),
	}
	require.NoError(t, sink.Deliver(context.Background(), batch))

	select {
	case msg := <-ch:
		assert.Equal(t, "analytics.batch", msg.Subject())

		var got []Event
		require.NoError(t, json.Unmarshal(msg.Data(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, EventSearch, got[0].Type)
		assert.Equal(t, EventClick, got[1].Type)
		require.NoError(t, msg.Ack())
	case <-time.After(time.Second):
		t.Fatal("batch never reached the stream's subject space")
	}
}

func TestPubsubSinkPropagatesPublishFailure(t *testing.T) {
	provider := pubsub.NewMemoryProvider()
	pub, err := provider.NewPublisher(pubsub.PublisherOptions{StreamName: "ANALYTICS"})
	require.NoError(t, err)
	require.NoError(t, provider.Close())

	sink := NewPubsubSink(pub)
	err = sink.Deliver(context.Background(), []Event{NewSearchEvent("sess-1", "git", 1, time.Millisecond)})
	assert.ErrorIs(t, err, pubsub.ErrClosed)
}
