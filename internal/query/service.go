// Package query is the user-facing search surface. It translates free-text
// queries plus structured options into index client calls, fans a combined
// query out across entity families, and feeds the popularity tracker and the
// analytics buffer as a side effect of serving traffic.
package query

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aegntic/cldcde-search/internal/analytics"
	"github.com/aegntic/cldcde-search/internal/catalog"
	"github.com/aegntic/cldcde-search/internal/popularity"
	"github.com/aegntic/cldcde-search/internal/search"
)

// DefaultTimeout bounds a single index call on the request path.
const DefaultTimeout = 2 * time.Second

// DefaultFacets are returned when the caller asks for none, so filter UIs
// always have distributions to render.
var DefaultFacets = []string{"category", "platforms", "author"}

// Config holds the query service configuration.
type Config struct {
	// Timeout applies to each index call when the caller's context has no
	// deadline. Defaults to 2s.
	Timeout time.Duration `yaml:"timeout"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// FamilyResult is one family's slice of a multi-family search. Err is set
// when that family's search failed; the other family's result is unaffected.
type FamilyResult struct {
	Result *search.Result `json:"result,omitempty"`
	Err    string         `json:"error,omitempty"`
}

// MultiResult combines per-family results. TookMs is wall time of the slower
// call, not the sum, because the searches run in parallel.
type MultiResult struct {
	Results map[catalog.Family]*FamilyResult `json:"results"`
	TookMs  int64                            `json:"tookMs"`
}

// Service composes the index client with popularity tracking and telemetry.
type Service struct {
	cfg     Config
	client  search.Client
	tracker *popularity.Tracker
	buffer  *analytics.Buffer
	logger  *slog.Logger
}

// NewService creates a query service. tracker and buffer may be nil when
// popularity or telemetry is disabled.
func NewService(cfg Config, client search.Client, tracker *popularity.Tracker, buffer *analytics.Buffer, logger *slog.Logger) *Service {
	cfg.ApplyDefaults()
	return &Service{
		cfg:     cfg,
		client:  client,
		tracker: tracker,
		buffer:  buffer,
		logger:  logger.With("component", "query"),
	}
}

// SearchEntities runs a ranked search over one family. Facets default to
// category, platforms and author unless the caller picks their own. The query
// string is recorded in the popularity tracker before the index call, so even
// failed searches count toward trending queries.
func (s *Service) SearchEntities(ctx context.Context, family catalog.Family, q string, opts search.Options) (*search.Result, error) {
	if s.tracker != nil {
		s.tracker.Record(q)
	}
	if len(opts.Facets) == 0 {
		opts.Facets = DefaultFacets
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.client.Search(ctx, family, q, opts)
	if err != nil {
		s.logger.Warn("search failed", "family", family, "query", q, "error", err)
		return nil, err
	}
	return result, nil
}

// Autocomplete returns prefix suggestions for one family.
func (s *Service) Autocomplete(ctx context.Context, family catalog.Family, prefix string, limit int) ([]search.Suggestion, error) {
	if s.tracker != nil {
		s.tracker.Record(prefix)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	suggestions, err := s.client.Autocomplete(ctx, family, prefix, limit)
	if err != nil {
		s.logger.Warn("autocomplete failed", "family", family, "prefix", prefix, "error", err)
		return nil, err
	}
	return suggestions, nil
}

// MultiSearch runs the same query against every family in parallel. Families
// fail independently: a family that errors gets an empty result with Err set
// while the others return normally, so a caller always gets a usable page.
func (s *Service) MultiSearch(ctx context.Context, q string, opts search.Options) (*MultiResult, error) {
	if s.tracker != nil {
		s.tracker.Record(q)
	}
	if len(opts.Facets) == 0 {
		opts.Facets = DefaultFacets
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	families := catalog.Families()
	results := make(map[catalog.Family]*FamilyResult, len(families))
	for _, f := range families {
		results[f] = &FamilyResult{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, family := range families {
		family := family
		g.Go(func() error {
			res, err := s.client.Search(gctx, family, q, opts)
			if err != nil {
				s.logger.Warn("multi-search family failed",
					"family", family, "query", q, "error", err)
				results[family].Err = err.Error()
				// Partial failure is part of the contract, so the
				// error stays in the family slot.
				return nil
			}
			results[family].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &MultiResult{
		Results: results,
		TookMs:  time.Since(start).Milliseconds(),
	}, nil
}

// TopQueries returns the most frequent recent queries.
func (s *Service) TopQueries(limit int) []popularity.Entry {
	if s.tracker == nil {
		return nil
	}
	return s.tracker.TopQueries(limit)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// Telemetry helpers. All are fire-and-forget from the caller's perspective:
// a recording failure is logged, never returned.

// RecordSearch records a completed search for analytics.
func (s *Service) RecordSearch(sessionID, q string, resultsCount int, took time.Duration) {
	s.record(analytics.NewSearchEvent(sessionID, q, resultsCount, took))
}

// RecordAutocomplete records a completed autocomplete lookup.
func (s *Service) RecordAutocomplete(sessionID, prefix string, resultsCount int, took time.Duration) {
	s.record(analytics.NewAutocompleteEvent(sessionID, prefix, resultsCount, took))
}

// RecordClick records a click on a search result.
func (s *Service) RecordClick(sessionID, q, resultID string, family catalog.Family, position int) {
	s.record(analytics.NewClickEvent(sessionID, q, resultID, string(family), position))
}

// RecordView records a detail view of a result.
func (s *Service) RecordView(sessionID, q, resultID string, family catalog.Family) {
	s.record(analytics.NewViewEvent(sessionID, q, resultID, string(family)))
}

func (s *Service) record(event analytics.Event) {
	if s.buffer == nil {
		return
	}
	if err := s.buffer.Record(event); err != nil {
		s.logger.Debug("telemetry dropped", "type", event.Type, "error", err)
	}
}
