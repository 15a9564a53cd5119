package bleve

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/aegntic/cldcde-search/internal/search"
)

// tokenize splits a raw query into lowercase terms, trimming punctuation.
func tokenize(raw string) []string {
	fields := strings.Fields(raw)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		term := strings.TrimFunc(strings.ToLower(f), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}

// buildQuery translates a free-text query into the ranked bleve query tree.
//
// Each surviving term becomes a disjunction over the searchable attributes,
// weighted by attribute priority, with synonym expansions and typo-tolerant
// variants as additional shoulds. Terms are combined with OR semantics and a
// minimum of one match, so documents covering more of the query rank higher
// (the words tier). A phrase query on name boosts exact matches (the
// exactness tier). An empty query after stop-word removal matches everything,
// which is the browse case.
func buildQuery(raw string, settings search.Settings) query.Query {
	terms := make([]string, 0)
	for _, t := range tokenize(raw) {
		if !settings.IsStopWord(t) {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return bleve.NewMatchAllQuery()
	}

	shoulds := make([]query.Query, 0, len(terms)+1)
	for _, term := range terms {
		shoulds = append(shoulds, termQuery(term, settings))
	}

	if len(terms) > 1 {
		phrase := bleve.NewMatchPhraseQuery(strings.Join(terms, " "))
		phrase.SetField(fieldName)
		phrase.SetBoost(2 * settings.AttributeWeight(fieldName))
		shoulds = append(shoulds, phrase)
	}

	dis := bleve.NewDisjunctionQuery(shoulds...)
	dis.SetMin(1)
	return dis
}

// termQuery builds the per-term disjunction across searchable attributes and
// synonym expansions.
func termQuery(term string, settings search.Settings) query.Query {
	var shoulds []query.Query

	for _, expanded := range settings.ExpandTerm(term) {
		for _, attr := range settings.SearchableAttributes {
			weight := settings.AttributeWeight(attr)

			mq := bleve.NewMatchQuery(expanded)
			mq.SetField(attr)
			mq.SetBoost(weight)
			shoulds = append(shoulds, mq)

			// Typo-tolerant variant at half weight so exact matches
			// always outrank fuzzy ones.
			if fuzz := settings.TypoTolerance.MaxFuzziness(len(expanded)); fuzz > 0 && attr != fieldAuthor {
				fq := bleve.NewMatchQuery(expanded)
				fq.SetField(attr)
				fq.SetFuzziness(fuzz)
				fq.SetBoost(weight / 2)
				shoulds = append(shoulds, fq)
			}
		}
	}

	return bleve.NewDisjunctionQuery(shoulds...)
}

// buildFilterQuery translates structured filters into a conjunction of term
// and numeric-range queries. Unknown fields and operators reject with
// ErrInvalidInput.
func buildFilterQuery(filters []search.Filter, settings search.Settings) ([]query.Query, error) {
	out := make([]query.Query, 0, len(filters))
	for _, f := range filters {
		if !settings.IsFilterable(f.Field) {
			return nil, fmt.Errorf("%w: field %q is not filterable", search.ErrInvalidInput, f.Field)
		}

		switch v := f.Value.(type) {
		case string:
			if f.Op != search.FilterEq {
				return nil, fmt.Errorf("%w: operator %q requires a numeric value", search.ErrInvalidInput, f.Op)
			}
			tq := bleve.NewTermQuery(v)
			tq.SetField(f.Field)
			out = append(out, tq)
		case float64, int, int64:
			nq, err := numericFilter(f)
			if err != nil {
				return nil, err
			}
			out = append(out, nq)
		default:
			return nil, fmt.Errorf("%w: unsupported filter value type %T", search.ErrInvalidInput, f.Value)
		}
	}
	return out, nil
}

func numericFilter(f search.Filter) (query.Query, error) {
	val := toFloat(f.Value)
	truth := true
	falsity := false

	var q query.Query
	switch f.Op {
	case search.FilterEq:
		q = bleve.NewNumericRangeInclusiveQuery(&val, &val, &truth, &truth)
	case search.FilterGt:
		q = bleve.NewNumericRangeInclusiveQuery(&val, nil, &falsity, nil)
	case search.FilterGte:
		q = bleve.NewNumericRangeInclusiveQuery(&val, nil, &truth, nil)
	case search.FilterLt:
		q = bleve.NewNumericRangeInclusiveQuery(nil, &val, nil, &falsity)
	case search.FilterLte:
		q = bleve.NewNumericRangeInclusiveQuery(nil, &val, nil, &truth)
	default:
		return nil, fmt.Errorf("%w: unknown filter operator %q", search.ErrInvalidInput, f.Op)
	}

	nq := q.(*query.NumericRangeQuery)
	nq.SetField(f.Field)
	return nq, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// buildSortOrder produces the bleve sort expressions implementing the ranking
// contract: score first (match quality, attribute priority, and exactness are
// folded into the score via boosts), then the caller sort, then the two
// fixed tie-breakers.
func buildSortOrder(sort []search.SortField, settings search.Settings) ([]string, error) {
	order := make([]string, 0, len(sort)+3)
	order = append(order, "-_score")

	for _, s := range sort {
		if !settings.IsSortable(s.Field) {
			return nil, fmt.Errorf("%w: field %q is not sortable", search.ErrInvalidInput, s.Field)
		}
		if s.Desc {
			order = append(order, "-"+s.Field)
		} else {
			order = append(order, s.Field)
		}
	}

	order = append(order, "-"+fieldDownloads, "-"+fieldRating)
	return order, nil
}

// buildAutocompleteQuery matches all but the last term as full words and the
// last term as a prefix, all on name.
func buildAutocompleteQuery(prefix string) query.Query {
	terms := tokenize(prefix)
	if len(terms) == 0 {
		return bleve.NewMatchNoneQuery()
	}

	musts := make([]query.Query, 0, len(terms))
	for _, term := range terms[:len(terms)-1] {
		mq := bleve.NewMatchQuery(term)
		mq.SetField(fieldName)
		musts = append(musts, mq)
	}

	last := terms[len(terms)-1]
	pq := bleve.NewPrefixQuery(last)
	pq.SetField(fieldName)

	// A completed word should still match once it is no longer a prefix of
	// anything longer.
	mq := bleve.NewMatchQuery(last)
	mq.SetField(fieldName)

	lastQ := bleve.NewDisjunctionQuery(pq, mq)
	lastQ.SetMin(1)
	musts = append(musts, lastQ)

	if len(musts) == 1 {
		return musts[0]
	}
	return bleve.NewConjunctionQuery(musts...)
}
