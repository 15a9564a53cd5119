// Package bleve implements the search.Client contract on an embedded bleve
// index, one index per entity family. It is the in-process stand-in for a
// hosted search service: the rest of the system only sees the client
// contract and its error taxonomy.
package bleve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/highlight/highlighter/html"

	"github.com/aegntic/cldcde-search/internal/catalog"
	"github.com/aegntic/cldcde-search/internal/search"
)

const (
	// DefaultAutocompleteLimit is applied when the caller passes limit <= 0.
	DefaultAutocompleteLimit = 10
	// MaxAutocompleteLimit bounds the suggestion page.
	MaxAutocompleteLimit = 25
)

// Config holds the bleve backend configuration.
type Config struct {
	// Path is the directory holding one index per family. Empty means
	// memory-only, which is what tests use.
	Path string `yaml:"path"`
}

// Client implements search.Client. Safe for concurrent use.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	settings map[catalog.Family]search.Settings

	mu      sync.RWMutex
	indexes map[catalog.Family]bleve.Index
	closed  bool
}

var _ search.Client = (*Client)(nil)

// NewClient creates a client with the default per-family settings.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	settings := make(map[catalog.Family]search.Settings)
	for _, fam := range catalog.Families() {
		settings[fam] = search.DefaultSettings(fam)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger.With("component", "search"),
		settings: settings,
		indexes:  make(map[catalog.Family]bleve.Index),
	}
}

// EnsureIndex opens or creates the family's index with its settings. Calling
// it for an already-open index is a no-op.
func (c *Client) EnsureIndex(_ context.Context, family catalog.Family) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.ensureLocked(family)
	return err
}

// ensureLocked opens or creates the index for a family. Caller holds c.mu.
func (c *Client) ensureLocked(family catalog.Family) (bleve.Index, error) {
	if c.closed {
		return nil, search.ErrUnavailable
	}
	if idx, ok := c.indexes[family]; ok {
		return idx, nil
	}

	settings, ok := c.settings[family]
	if !ok {
		return nil, fmt.Errorf("%w: family %q", search.ErrInvalidInput, family)
	}

	var (
		idx bleve.Index
		err error
	)
	if c.cfg.Path == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping(settings))
	} else {
		path := filepath.Join(c.cfg.Path, string(family))
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, buildIndexMapping(settings))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: opening index for %s: %v", search.ErrUnavailable, family, err)
	}

	c.indexes[family] = idx
	c.logger.Info("index ready", "family", family)
	return idx, nil
}

// index returns the family's index, creating it on first use.
func (c *Client) index(family catalog.Family) (bleve.Index, search.Settings, error) {
	c.mu.RLock()
	idx, ok := c.indexes[family]
	settings := c.settings[family]
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return nil, settings, search.ErrUnavailable
	}
	if ok {
		return idx, settings, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.ensureLocked(family)
	return idx, c.settings[family], err
}

// Search executes a ranked, filtered, optionally faceted query.
func (c *Client) Search(ctx context.Context, family catalog.Family, rawQuery string, opts search.Options) (*search.Result, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}

	idx, settings, err := c.index(family)
	if err != nil {
		return nil, err
	}

	q := buildQuery(rawQuery, settings)

	filterQueries, err := buildFilterQuery(opts.Filters, settings)
	if err != nil {
		return nil, err
	}
	if len(filterQueries) > 0 {
		q = bleve.NewConjunctionQuery(append(filterQueries, q)...)
	}

	sortOrder, err := buildSortOrder(opts.Sort, settings)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(q, opts.Limit, opts.Offset, false)
	req.Fields = []string{"*"}
	req.SortBy(sortOrder)

	if opts.Highlight {
		req.Highlight = bleve.NewHighlightWithStyle(html.Name)
		req.Highlight.AddField(fieldName)
		req.Highlight.AddField(fieldDescription)
	}

	for _, facet := range opts.Facets {
		if !settings.IsFilterable(facet) {
			return nil, fmt.Errorf("%w: field %q is not facetable", search.ErrInvalidInput, facet)
		}
		req.AddFacet(facet, bleve.NewFacetRequest(facet, search.DefaultFacetSize))
	}

	started := time.Now()
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	result := &search.Result{
		Hits:   make([]search.Hit, 0, len(res.Hits)),
		Total:  res.Total,
		TookMs: time.Since(started).Milliseconds(),
	}

	for _, hit := range res.Hits {
		result.Hits = append(result.Hits, search.Hit{
			Entity:     entityFromFields(family, hit.ID, hit.Fields),
			Score:      hit.Score,
			Highlights: hit.Fragments,
		})
	}

	if len(res.Facets) > 0 {
		result.Facets = make(map[string][]search.FacetCount, len(res.Facets))
		for name, fr := range res.Facets {
			counts := make([]search.FacetCount, 0, len(fr.Terms.Terms()))
			for _, term := range fr.Terms.Terms() {
				counts = append(counts, search.FacetCount{Value: term.Term, Count: term.Count})
			}
			result.Facets[name] = counts
		}
	}

	return result, nil
}

// Autocomplete runs the narrow prefix lookup on name.
func (c *Client) Autocomplete(ctx context.Context, family catalog.Family, prefix string, limit int) ([]search.Suggestion, error) {
	if limit <= 0 {
		limit = DefaultAutocompleteLimit
	}
	if limit > MaxAutocompleteLimit {
		limit = MaxAutocompleteLimit
	}

	idx, _, err := c.index(family)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(buildAutocompleteQuery(prefix), limit, 0, false)
	req.Fields = []string{fieldName, fieldCategory}
	req.SortBy([]string{"-_score", "-" + fieldDownloads})
	req.Highlight = bleve.NewHighlightWithStyle(html.Name)
	req.Highlight.AddField(fieldName)

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	suggestions := make([]search.Suggestion, 0, len(res.Hits))
	for _, hit := range res.Hits {
		s := search.Suggestion{
			ID:       hit.ID,
			Name:     stringField(hit.Fields, fieldName),
			Category: stringField(hit.Fields, fieldCategory),
		}
		if frags := hit.Fragments[fieldName]; len(frags) > 0 {
			s.NameHighlight = frags[0]
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, nil
}

// Upsert inserts or replaces a document by id.
func (c *Client) Upsert(_ context.Context, family catalog.Family, entity *catalog.Entity) error {
	if entity == nil {
		return fmt.Errorf("%w: nil entity", search.ErrInvalidInput)
	}
	if entity.ID == "" {
		return fmt.Errorf("%w: entity id is required", search.ErrInvalidInput)
	}

	idx, _, err := c.index(family)
	if err != nil {
		return err
	}

	if err := idx.Index(entity.ID, makeIndexDoc(entity)); err != nil {
		return classify(err)
	}
	return nil
}

// BulkUpsert indexes a batch of documents in one commit.
func (c *Client) BulkUpsert(_ context.Context, family catalog.Family, entities []*catalog.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	idx, _, err := c.index(family)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, e := range entities {
		if e == nil || e.ID == "" {
			return fmt.Errorf("%w: batch contains entity without id", search.ErrInvalidInput)
		}
		if err := batch.Index(e.ID, makeIndexDoc(e)); err != nil {
			return classify(err)
		}
	}

	if err := idx.Batch(batch); err != nil {
		return classify(err)
	}
	return nil
}

// Delete removes a document by id. Bleve's delete is a no-op for missing ids,
// which gives us the required idempotency for free.
func (c *Client) Delete(_ context.Context, family catalog.Family, id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", search.ErrInvalidInput)
	}

	idx, _, err := c.index(family)
	if err != nil {
		return err
	}

	if err := idx.Delete(id); err != nil {
		return classify(err)
	}
	return nil
}

// Health reports backend availability.
func (c *Client) Health(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return search.ErrUnavailable
	}
	return nil
}

// DocCount returns the number of documents indexed for a family. Used by
// admin surfaces and tests.
func (c *Client) DocCount(family catalog.Family) (uint64, error) {
	idx, _, err := c.index(family)
	if err != nil {
		return 0, err
	}
	count, err := idx.DocCount()
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// Close closes all family indexes. Further calls return ErrUnavailable.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for fam, idx := range c.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing index for %s: %w", fam, err)
		}
	}
	return firstErr
}

// classify maps backend errors onto the client error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", search.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", search.ErrUnavailable, err)
	}
}
