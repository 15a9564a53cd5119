package query

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegntic/cldcde-search/internal/analytics"
	"github.com/aegntic/cldcde-search/internal/catalog"
	"github.com/aegntic/cldcde-search/internal/popularity"
	"github.com/aegntic/cldcde-search/internal/search"
)

// fakeClient returns scripted results per family and records the options it
// was called with.
type fakeClient struct {
	mu          sync.Mutex
	lastOpts    map[catalog.Family]search.Options
	results     map[catalog.Family]*search.Result
	errs        map[catalog.Family]error
	delays      map[catalog.Family]time.Duration
	sawDeadline bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		lastOpts: make(map[catalog.Family]search.Options),
		results:  make(map[catalog.Family]*search.Result),
		errs:     make(map[catalog.Family]error),
		delays:   make(map[catalog.Family]time.Duration),
	}
}

func (f *fakeClient) Search(ctx context.Context, family catalog.Family, _ string, opts search.Options) (*search.Result, error) {
	f.mu.Lock()
	f.lastOpts[family] = opts
	_, f.sawDeadline = ctx.Deadline()
	delay := f.delays[family]
	res, err := f.results[family], f.errs[family]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &search.Result{}
	}
	return res, nil
}

func (f *fakeClient) Autocomplete(ctx context.Context, family catalog.Family, _ string, _ int) ([]search.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.sawDeadline = ctx.Deadline()
	if err := f.errs[family]; err != nil {
		return nil, err
	}
	return []search.Suggestion{{ID: "x", Name: "X"}}, nil
}

func (f *fakeClient) EnsureIndex(context.Context, catalog.Family) error { return nil }
func (f *fakeClient) Upsert(context.Context, catalog.Family, *catalog.Entity) error {
	return nil
}
func (f *fakeClient) BulkUpsert(context.Context, catalog.Family, []*catalog.Entity) error {
	return nil
}
func (f *fakeClient) Delete(context.Context, catalog.Family, string) error { return nil }
func (f *fakeClient) Health(context.Context) error                         { return nil }
func (f *fakeClient) Close() error                                         { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(client search.Client) (*Service, *popularity.Tracker) {
	tracker := popularity.NewTracker(100)
	return NewService(Config{}, client, tracker, nil, testLogger()), tracker
}

func TestSearchEntitiesDefaultFacets(t *testing.T) {
	client := newFakeClient()
	svc, _ := newService(client)

	_, err := svc.SearchEntities(context.Background(), catalog.FamilyExtensions, "git", search.Options{})
	require.NoError(t, err)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, DefaultFacets, client.lastOpts[catalog.FamilyExtensions].Facets)
	assert.True(t, client.sawDeadline, "index call should carry a deadline")
}

func TestSearchEntitiesKeepsCallerFacets(t *testing.T) {
	client := newFakeClient()
	svc, _ := newService(client)

	opts := search.Options{Facets: []string{"category"}}
	_, err := svc.SearchEntities(context.Background(), catalog.FamilyExtensions, "git", opts)
	require.NoError(t, err)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"category"}, client.lastOpts[catalog.FamilyExtensions].Facets)
}

func TestSearchEntitiesRecordsPopularity(t *testing.T) {
	client := newFakeClient()
	svc, tracker := newService(client)

	for i := 0; i < 3; i++ {
		_, err := svc.SearchEntities(context.Background(), catalog.FamilyExtensions, "  Git Helper ", search.Options{})
		require.NoError(t, err)
	}

	top := tracker.TopQueries(1)
	require.Len(t, top, 1)
	assert.Equal(t, "git helper", top[0].Query)
	assert.Equal(t, 3, top[0].Count)
}

func TestSearchEntitiesPropagatesError(t *testing.T) {
	client := newFakeClient()
	client.errs[catalog.FamilyExtensions] = search.ErrUnavailable
	svc, tracker := newService(client)

	_, err := svc.SearchEntities(context.Background(), catalog.FamilyExtensions, "git", search.Options{})
	assert.ErrorIs(t, err, search.ErrUnavailable)

	// Failed searches still count toward trending.
	assert.Equal(t, 1, tracker.Count("git"))
}

func TestMultiSearchBothFamilies(t *testing.T) {
	client := newFakeClient()
	client.results[catalog.FamilyExtensions] = &search.Result{Total: 2}
	client.results[catalog.FamilyMCPServers] = &search.Result{Total: 5}
	svc, _ := newService(client)

	res, err := svc.MultiSearch(context.Background(), "git", search.Options{})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	ext := res.Results[catalog.FamilyExtensions]
	require.NotNil(t, ext.Result)
	assert.Equal(t, uint64(2), ext.Result.Total)
	assert.Empty(t, ext.Err)

	mcp := res.Results[catalog.FamilyMCPServers]
	require.NotNil(t, mcp.Result)
	assert.Equal(t, uint64(5), mcp.Result.Total)
}

func TestMultiSearchPartialFailure(t *testing.T) {
	client := newFakeClient()
	client.results[catalog.FamilyExtensions] = &search.Result{Total: 3}
	client.errs[catalog.FamilyMCPServers] = search.ErrUnavailable
	svc, _ := newService(client)

	res, err := svc.MultiSearch(context.Background(), "git", search.Options{})
	require.NoError(t, err, "one family failing must not fail the combined call")

	ext := res.Results[catalog.FamilyExtensions]
	require.NotNil(t, ext.Result)
	assert.Equal(t, uint64(3), ext.Result.Total)

	mcp := res.Results[catalog.FamilyMCPServers]
	assert.Nil(t, mcp.Result)
	assert.NotEmpty(t, mcp.Err)
}

func TestMultiSearchTookIsWallTimeOfSlowerCall(t *testing.T) {
	client := newFakeClient()
	client.delays[catalog.FamilyExtensions] = 10 * time.Millisecond
	client.delays[catalog.FamilyMCPServers] = 40 * time.Millisecond
	svc, _ := newService(client)

	res, err := svc.MultiSearch(context.Background(), "git", search.Options{})
	require.NoError(t, err)

	// Parallel, so total tracks the slower call rather than the sum.
	assert.GreaterOrEqual(t, res.TookMs, int64(40))
	assert.Less(t, res.TookMs, int64(500))
}

func TestAutocomplete(t *testing.T) {
	client := newFakeClient()
	svc, tracker := newService(client)

	suggestions, err := svc.Autocomplete(context.Background(), catalog.FamilyMCPServers, "Fi", 5)
	require.NoError(t, err)
	assert.Len(t, suggestions, 1)
	assert.Equal(t, 1, tracker.Count("fi"))
}

func TestTelemetryHelpers(t *testing.T) {
	var mu sync.Mutex
	var delivered []analytics.Event
	sink := analytics.SinkFunc(func(_ context.Context, batch []analytics.Event) error {
		mu.Lock()
		delivered = append(delivered, batch...)
		mu.Unlock()
		return nil
	})

	buffer := analytics.NewBuffer(analytics.Config{}, sink, testLogger())
	client := newFakeClient()
	svc := NewService(Config{}, client, nil, buffer, testLogger())

	svc.RecordSearch("sess-1", "git", 3, 12*time.Millisecond)
	svc.RecordAutocomplete("sess-1", "gi", 5, 4*time.Millisecond)
	svc.RecordClick("sess-1", "git", "mcp-7", catalog.FamilyMCPServers, 2)
	svc.RecordView("sess-1", "git", "mcp-7", catalog.FamilyMCPServers)

	// Missing session is dropped silently.
	svc.RecordSearch("", "git", 3, time.Millisecond)

	buffer.Flush(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 4)
	assert.Equal(t, analytics.EventSearch, delivered[0].Type)
	assert.Equal(t, analytics.EventClick, delivered[2].Type)
	assert.Equal(t, "mcp-7", delivered[2].ResultID)
}

func TestTopQueries(t *testing.T) {
	client := newFakeClient()
	svc, _ := newService(client)

	for i := 0; i < 3; i++ {
		_, _ = svc.SearchEntities(context.Background(), catalog.FamilyExtensions, "docker", search.Options{})
	}
	_, _ = svc.SearchEntities(context.Background(), catalog.FamilyExtensions, "git", search.Options{})

	top := svc.TopQueries(2)
	require.Len(t, top, 2)
	assert.Equal(t, "docker", top[0].Query)
}
