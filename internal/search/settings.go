package search

import (
	"slices"
	"strings"

	"github.com/aegntic/cldcde-search/internal/catalog"
)

// Settings is the declarative relevance configuration for one entity family.
// The backend applies it at EnsureIndex time.
type Settings struct {
	// SearchableAttributes lists full-text fields in priority order. Earlier
	// attributes weigh more in the attribute ranking tier.
	SearchableAttributes []string `yaml:"searchable_attributes"`

	// FilterableAttributes lists fields accepted in Options.Filters and
	// Options.Facets.
	FilterableAttributes []string `yaml:"filterable_attributes"`

	// SortableAttributes lists fields accepted in Options.Sort.
	SortableAttributes []string `yaml:"sortable_attributes"`

	// RankingRules is the ordered ranking contract. The order is load-bearing:
	// changing it changes result ordering for identical queries.
	RankingRules []string `yaml:"ranking_rules"`

	// StopWords are dropped from queries before matching.
	StopWords []string `yaml:"stop_words"`

	// Synonyms maps a query term to the terms it expands to. Expansion is
	// one-way and applied at query time.
	Synonyms map[string][]string `yaml:"synonyms"`

	// TypoTolerance controls fuzzy matching thresholds.
	TypoTolerance TypoTolerance `yaml:"typo_tolerance"`
}

// TypoTolerance mirrors the word-length thresholds of the hosted engines: no
// typos below MinWordSizeOneTypo, one typo below MinWordSizeTwoTypos, two
// above.
type TypoTolerance struct {
	Enabled             bool `yaml:"enabled"`
	MinWordSizeOneTypo  int  `yaml:"min_word_size_one_typo"`
	MinWordSizeTwoTypos int  `yaml:"min_word_size_two_typos"`
}

// defaultRankingRules is the fixed ranking order shared by both families:
// match quality (words, typo, proximity), then attribute priority, then the
// caller-supplied sort, then exactness, then the two tie-breakers.
var defaultRankingRules = []string{
	"words",
	"typo",
	"proximity",
	"attribute",
	"sort",
	"exactness",
	"desc(downloads)",
	"desc(rating)",
}

var defaultStopWords = []string{
	"a", "an", "and", "for", "in", "of", "on", "the", "to", "with",
}

// defaultSynonyms covers the abbreviations users actually type into the
// directory search box.
var defaultSynonyms = map[string][]string{
	"fs":     {"filesystem"},
	"db":     {"database"},
	"k8s":    {"kubernetes"},
	"ai":     {"assistant", "llm"},
	"repo":   {"repository"},
	"auth":   {"authentication"},
	"config": {"configuration"},
}

// DefaultSettings returns the relevance configuration for a family.
func DefaultSettings(family catalog.Family) Settings {
	s := Settings{
		SearchableAttributes: []string{"name", "tags", "description", "author"},
		FilterableAttributes: []string{"category", "platforms", "author", "tags", "downloads", "rating"},
		SortableAttributes:   []string{"downloads", "rating", "name", "created_at", "updated_at"},
		RankingRules:         slices.Clone(defaultRankingRules),
		StopWords:            slices.Clone(defaultStopWords),
		Synonyms:             make(map[string][]string, len(defaultSynonyms)),
		TypoTolerance: TypoTolerance{
			Enabled:             true,
			MinWordSizeOneTypo:  4,
			MinWordSizeTwoTypos: 8,
		},
	}
	for k, v := range defaultSynonyms {
		s.Synonyms[k] = slices.Clone(v)
	}

	// MCP server searches lean on protocol shorthand.
	if family == catalog.FamilyMCPServers {
		s.Synonyms["mcp"] = []string{"server", "protocol"}
	}
	return s
}

// AttributeWeight returns the ranking weight of a searchable attribute:
// highest for the first declared attribute, 1 for the last, 0 for fields that
// are not searchable.
func (s Settings) AttributeWeight(attr string) float64 {
	for i, a := range s.SearchableAttributes {
		if a == attr {
			return float64(len(s.SearchableAttributes) - i)
		}
	}
	return 0
}

// IsFilterable reports whether a field may appear in filters and facets.
func (s Settings) IsFilterable(field string) bool {
	return slices.Contains(s.FilterableAttributes, field)
}

// IsSortable reports whether a field may appear in sort expressions.
func (s Settings) IsSortable(field string) bool {
	return slices.Contains(s.SortableAttributes, field)
}

// IsStopWord reports whether a query term is dropped before matching.
func (s Settings) IsStopWord(term string) bool {
	return slices.Contains(s.StopWords, strings.ToLower(term))
}

// ExpandTerm returns the term plus its synonym expansions, if any.
func (s Settings) ExpandTerm(term string) []string {
	expanded := []string{term}
	if syns, ok := s.Synonyms[strings.ToLower(term)]; ok {
		expanded = append(expanded, syns...)
	}
	return expanded
}

// MaxFuzziness returns the edit distance allowed for a term of the given
// length under the typo-tolerance thresholds.
func (t TypoTolerance) MaxFuzziness(termLen int) int {
	if !t.Enabled {
		return 0
	}
	switch {
	case termLen >= t.MinWordSizeTwoTypos:
		return 2
	case termLen >= t.MinWordSizeOneTypo:
		return 1
	default:
		return 0
	}
}
