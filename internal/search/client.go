// Package search defines the typed client contract for the directory's
// search index, along with the declarative per-family index settings. The
// contract is backend-agnostic; the bleve subpackage provides the in-process
// implementation.
package search

import (
	"context"
	"fmt"

	"github.com/aegntic/cldcde-search/internal/catalog"
)

const (
	// DefaultLimit is applied when a caller does not specify a page size.
	DefaultLimit = 20
	// MaxLimit bounds a single result page.
	MaxLimit = 100
	// DefaultFacetSize bounds the number of values returned per facet.
	DefaultFacetSize = 10
)

// Client is the contract the rest of the system programs against. All
// mutations are idempotent: Upsert is insert-or-replace by id, Delete of a
// missing id is success.
type Client interface {
	// EnsureIndex creates the family's index with its settings if it does
	// not exist, and is a no-op when the settings already match.
	EnsureIndex(ctx context.Context, family catalog.Family) error

	// Search executes a ranked, filtered, optionally faceted query.
	Search(ctx context.Context, family catalog.Family, query string, opts Options) (*Result, error)

	// Autocomplete is the narrow low-latency variant: prefix matching on
	// name only, returning id/name/category with highlighting on name.
	Autocomplete(ctx context.Context, family catalog.Family, prefix string, limit int) ([]Suggestion, error)

	// Upsert inserts or replaces a document by id.
	Upsert(ctx context.Context, family catalog.Family, entity *catalog.Entity) error

	// BulkUpsert upserts a batch of documents in one backend round trip.
	BulkUpsert(ctx context.Context, family catalog.Family, entities []*catalog.Entity) error

	// Delete removes a document by id. Missing ids are treated as success.
	Delete(ctx context.Context, family catalog.Family, id string) error

	// Health probes backend availability.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// FilterOp represents the type of filter operation.
type FilterOp string

const (
	FilterEq  FilterOp = "eq"
	FilterGt  FilterOp = "gt"
	FilterGte FilterOp = "gte"
	FilterLt  FilterOp = "lt"
	FilterLte FilterOp = "lte"
)

// Filter restricts results on a filterable attribute.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// SortField is a caller-supplied sort expression, applied within the ranking
// order after match quality (see Settings.RankingRules).
type SortField struct {
	Field string
	Desc  bool
}

// Options carries the structured knobs of a search request. The zero value
// is valid: defaults are applied by Normalize.
type Options struct {
	Limit     int
	Offset    int
	Filters   []Filter
	Sort      []SortField
	Facets    []string
	Highlight bool
}

// Normalize applies defaults and bounds. Invalid paging surfaces as
// ErrInvalidInput rather than being silently clamped to zero.
func (o *Options) Normalize() error {
	if o.Limit < 0 || o.Offset < 0 {
		return fmt.Errorf("%w: limit and offset must be non-negative", ErrInvalidInput)
	}
	if o.Limit == 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	return nil
}

// Hit is a single ranked result. Entity is the index projection of the
// catalog record, possibly stale relative to the primary store.
type Hit struct {
	Entity     catalog.Entity      `json:"entity"`
	Score      float64             `json:"score"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

// FacetCount is one value of a facet distribution.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Result is a page of ranked hits plus facet distributions.
type Result struct {
	Hits   []Hit                   `json:"hits"`
	Total  uint64                  `json:"total"`
	Facets map[string][]FacetCount `json:"facets,omitempty"`
	TookMs int64                   `json:"tookMs"`
}

// Suggestion is an autocomplete hit.
type Suggestion struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	NameHighlight string `json:"nameHighlight,omitempty"`
}
