package syncer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegntic/cldcde-search/internal/catalog"
	"github.com/aegntic/cldcde-search/internal/catalog/memory"
	"github.com/aegntic/cldcde-search/internal/events"
	"github.com/aegntic/cldcde-search/internal/pubsub"
	"github.com/aegntic/cldcde-search/internal/search"
)

// fakeIndex records writes and fails on demand.
type fakeIndex struct {
	mu          sync.Mutex
	upserts     []*catalog.Entity
	deletes     []string
	failUpserts int
	failDeletes int
}

func (f *fakeIndex) Upsert(_ context.Context, _ catalog.Family, entity *catalog.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpserts > 0 {
		f.failUpserts--
		return search.ErrUnavailable
	}
	f.upserts = append(f.upserts, entity)
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, _ catalog.Family, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeletes > 0 {
		f.failDeletes--
		return search.ErrUnavailable
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeIndex) upsertIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.upserts))
	for _, e := range f.upserts {
		ids = append(ids, e.ID)
	}
	return ids
}

func (f *fakeIndex) EnsureIndex(context.Context, catalog.Family) error { return nil }
func (f *fakeIndex) Search(context.Context, catalog.Family, string, search.Options) (*search.Result, error) {
	return &search.Result{}, nil
}
func (f *fakeIndex) Autocomplete(context.Context, catalog.Family, string, int) ([]search.Suggestion, error) {
	return nil, nil
}
func (f *fakeIndex) BulkUpsert(ctx context.Context, family catalog.Family, entities []*catalog.Entity) error {
	for _, e := range entities {
		if err := f.Upsert(ctx, family, e); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeIndex) Health(context.Context) error { return nil }
func (f *fakeIndex) Close() error                 { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEntity(id string, family catalog.Family, downloads int64) *catalog.Entity {
	now := time.Now().UTC()
	return &catalog.Entity{
		ID:        id,
		Family:    family,
		Name:      "Entity " + id,
		Downloads: downloads,
		Rating:    4.2,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func fastConfig() Config {
	return Config{
		RetryFloor:   2 * time.Millisecond,
		RetryCeiling: 16 * time.Millisecond,
		RetryFactor:  2,
	}
}

func startQueue(t *testing.T, cfg Config, store catalog.Store, idx search.Client, opts ...Option) *Queue {
	t.Helper()
	q := NewQueue(cfg, store, idx, testLogger(), opts...)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

func TestQueueAppliesUpdate(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Put(testEntity("ext-42", catalog.FamilyExtensions, 100)))
	idx := &fakeIndex{}

	q := startQueue(t, fastConfig(), store, idx)
	q.Enqueue(events.NewChangeEvent(events.OperationUpdate, "extensions", "ext-42"))

	require.Eventually(t, func() bool {
		return len(idx.upsertIDs()) == 1
	}, time.Second, time.Millisecond)

	idx.mu.Lock()
	got := idx.upserts[0]
	idx.mu.Unlock()
	assert.Equal(t, "ext-42", got.ID)
	assert.Equal(t, int64(100), got.Downloads)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Applied)
	assert.Equal(t, int64(0), stats.Retries)
	assert.Equal(t, fastConfig().RetryFloor, stats.CurrentDelay)
	assert.Equal(t, 0, q.Depth())
}

func TestQueueOrderingUnderRetry(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Put(testEntity("ext-1", catalog.FamilyExtensions, 10)))
	require.NoError(t, store.Put(testEntity("ext-2", catalog.FamilyExtensions, 20)))
	idx := &fakeIndex{failUpserts: 3}

	q := startQueue(t, fastConfig(), store, idx)
	q.Enqueue(events.NewChangeEvent(events.OperationUpdate, "extensions", "ext-1"))
	q.Enqueue(events.NewChangeEvent(events.OperationUpdate, "extensions", "ext-2"))

	require.Eventually(t, func() bool {
		return len(idx.upsertIDs()) == 2
	}, 2*time.Second, time.Millisecond)

	// The failing head never lets the second event jump ahead.
	assert.Equal(t, []string{"ext-1", "ext-2"}, idx.upsertIDs())
	assert.GreaterOrEqual(t, q.Stats().Retries, int64(3))
}

func TestQueueBackoffResetsOnSuccess(t *testing.T) {
	cfg := fastConfig()
	store := memory.NewStore()
	require.NoError(t, store.Put(testEntity("ext-1", catalog.FamilyExtensions, 1)))
	idx := &fakeIndex{failUpserts: 5}

	q := startQueue(t, cfg, store, idx)
	q.Enqueue(events.NewChangeEvent(events.OperationUpdate, "extensions", "ext-1"))

	require.Eventually(t, func() bool {
		return len(idx.upsertIDs()) == 1
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, cfg.RetryFloor, q.CurrentDelay())
}

func TestNextDelay(t *testing.T) {
	floor := time.Second
	ceiling := 60 * time.Second

	d := floor
	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, w := range want {
		d = nextDelay(d, 2, ceiling)
		assert.Equal(t, w, d, "after %d failures", i+1)
	}
}

func TestQueueSkipsAbsentEntity(t *testing.T) {
	store := memory.NewStore()
	idx := &fakeIndex{}

	q := startQueue(t, fastConfig(), store, idx)
	q.Enqueue(events.NewChangeEvent(events.OperationCreate, "extensions", "gone"))

	require.Eventually(t, func() bool {
		return q.Stats().Skipped == 1
	}, time.Second, time.Millisecond)

	assert.Empty(t, idx.upsertIDs())
	assert.Equal(t, int64(0), q.Stats().Retries)
	assert.Equal(t, 0, q.Depth())
}

func TestQueueDelete(t *testing.T) {
	store := memory.NewStore()
	idx := &fakeIndex{}

	q := startQueue(t, fastConfig(), store, idx)
	q.Enqueue(events.NewChangeEvent(events.OperationDelete, "mcp-servers", "srv-7"))

	require.Eventually(t, func() bool {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		return len(idx.deletes) == 1
	}, time.Second, time.Millisecond)

	idx.mu.Lock()
	assert.Equal(t, []string{"srv-7"}, idx.deletes)
	idx.mu.Unlock()

	// Deletes count as applied events too.
	assert.Equal(t, int64(1), q.Stats().Applied)
}

func TestQueueDeadLettersMalformedEvent(t *testing.T) {
	store := memory.NewStore()
	idx := &fakeIndex{}

	var mu sync.Mutex
	var dropped []*events.ChangeEvent
	q := startQueue(t, fastConfig(), store, idx, WithDeadLetterHandler(func(evt *events.ChangeEvent, _ error) {
		mu.Lock()
		dropped = append(dropped, evt)
		mu.Unlock()
	}))

	q.Enqueue(events.NewChangeEvent(events.OperationCreate, "not-a-family", "x"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dropped) == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, int64(1), q.Stats().DeadLettered)
	assert.Equal(t, 0, q.Depth())
}

func TestQueueMaxAttempts(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 3

	store := memory.NewStore()
	require.NoError(t, store.Put(testEntity("ext-1", catalog.FamilyExtensions, 1)))
	require.NoError(t, store.Put(testEntity("ext-2", catalog.FamilyExtensions, 2)))
	idx := &fakeIndex{failUpserts: 100}

	q := startQueue(t, cfg, store, idx)
	q.Enqueue(events.NewChangeEvent(events.OperationUpdate, "extensions", "ext-1"))
	q.Enqueue(events.NewChangeEvent(events.OperationUpdate, "extensions", "ext-2"))

	// Both events burn through the fail budget and get dropped.
	require.Eventually(t, func() bool {
		return q.Stats().DeadLettered == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, q.Depth())
}

func TestQueueBatchEnqueue(t *testing.T) {
	store := memory.NewStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(testEntity(id, catalog.FamilyExtensions, 1)))
	}
	idx := &fakeIndex{}

	q := startQueue(t, fastConfig(), store, idx)
	q.BatchEnqueue(events.OperationUpdate, catalog.FamilyExtensions, []string{"a", "b", "c"})

	require.Eventually(t, func() bool {
		return len(idx.upsertIDs()) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, idx.upsertIDs())
}

func TestQueueDepthAndAgeWhileBlocked(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Put(testEntity("ext-1", catalog.FamilyExtensions, 1)))
	idx := &fakeIndex{failUpserts: 1 << 30}

	cfg := fastConfig()
	cfg.RetryCeiling = 50 * time.Millisecond
	q := startQueue(t, cfg, store, idx)
	q.Enqueue(events.NewChangeEvent(events.OperationUpdate, "extensions", "ext-1"))

	require.Eventually(t, func() bool {
		return q.Stats().Retries >= 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, q.Depth())
	assert.Greater(t, q.OldestPendingAge(), time.Duration(0))
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Put(testEntity("ext-1", catalog.FamilyExtensions, 1)))
	idx := &fakeIndex{}

	q := NewQueue(fastConfig(), store, idx, testLogger())
	q.Enqueue(events.NewChangeEvent(events.OperationUpdate, "extensions", "ext-1"))
	assert.Equal(t, 1, q.Depth())
	assert.Empty(t, idx.upsertIDs())

	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})

	require.Eventually(t, func() bool {
		return len(idx.upsertIDs()) == 1
	}, time.Second, time.Millisecond)
}

func TestSubscriberFeedsQueue(t *testing.T) {
	provider := pubsub.NewMemoryProvider()
	defer provider.Close()

	pub, err := provider.NewPublisher(pubsub.PublisherOptions{StreamName: "changes"})
	require.NoError(t, err)
	consumer, err := provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:    "changes",
		ConsumerName:  "syncer",
		FilterSubject: "changes.>",
	})
	require.NoError(t, err)

	store := memory.NewStore()
	require.NoError(t, store.Put(testEntity("ext-9", catalog.FamilyExtensions, 9)))
	idx := &fakeIndex{}
	q := startQueue(t, fastConfig(), store, idx)

	sub := NewSubscriber(consumer, q, testLogger())
	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sub.Stop(ctx)
	})

	evt := events.NewChangeEvent(events.OperationUpdate, "extensions", "ext-9")
	data, err := evt.Marshal()
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), evt.Subject(), data))

	require.Eventually(t, func() bool {
		return len(idx.upsertIDs()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"ext-9"}, idx.upsertIDs())
}

func TestSubscriberDropsMalformedPayload(t *testing.T) {
	provider := pubsub.NewMemoryProvider()
	defer provider.Close()

	pub, err := provider.NewPublisher(pubsub.PublisherOptions{StreamName: "changes"})
	require.NoError(t, err)
	consumer, err := provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:    "changes",
		ConsumerName:  "syncer",
		FilterSubject: "changes.>",
	})
	require.NoError(t, err)

	store := memory.NewStore()
	idx := &fakeIndex{}
	q := startQueue(t, fastConfig(), store, idx)

	sub := NewSubscriber(consumer, q, testLogger())
	require.NoError(t, sub.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sub.Stop(ctx)
	})

	require.NoError(t, pub.Publish(context.Background(), "changes.extensions", []byte("{not json")))

	// Give the loop a moment; nothing should land in the queue.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, q.Depth())
	assert.Empty(t, idx.upsertIDs())
}
