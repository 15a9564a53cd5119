package bleve

import (
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/aegntic/cldcde-search/internal/catalog"
	"github.com/aegntic/cldcde-search/internal/search"
)

// Field names used in the index. Facet and filter fields use the keyword
// analyzer so their terms survive verbatim; full-text fields use the default
// analyzer.
const (
	fieldName        = "name"
	fieldDescription = "description"
	fieldAuthor      = "author"
	fieldTags        = "tags"
	fieldCategory    = "category"
	fieldPlatforms   = "platforms"
	fieldDownloads   = "downloads"
	fieldRating      = "rating"
	fieldVersion     = "version"
	fieldRepository  = "repository"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"
)

// buildIndexMapping translates the family settings into a bleve index mapping.
func buildIndexMapping(_ search.Settings) mapping.IndexMapping {
	text := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Store = true
		return fm
	}
	kw := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Store = true
		fm.Analyzer = keyword.Name
		return fm
	}
	numeric := func() *mapping.FieldMapping {
		fm := bleve.NewNumericFieldMapping()
		fm.Store = true
		return fm
	}
	datetime := func() *mapping.FieldMapping {
		fm := bleve.NewDateTimeFieldMapping()
		fm.Store = true
		return fm
	}
	stored := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Store = true
		fm.Index = false
		return fm
	}

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldName, text())
	doc.AddFieldMappingsAt(fieldDescription, text())
	doc.AddFieldMappingsAt(fieldTags, text())
	doc.AddFieldMappingsAt(fieldAuthor, kw())
	doc.AddFieldMappingsAt(fieldCategory, kw())
	doc.AddFieldMappingsAt(fieldPlatforms, kw())
	doc.AddFieldMappingsAt(fieldDownloads, numeric())
	doc.AddFieldMappingsAt(fieldRating, numeric())
	doc.AddFieldMappingsAt(fieldCreatedAt, datetime())
	doc.AddFieldMappingsAt(fieldUpdatedAt, datetime())
	doc.AddFieldMappingsAt(fieldVersion, stored())
	doc.AddFieldMappingsAt(fieldRepository, stored())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// makeIndexDoc projects a catalog entity into the flat field map the mapping
// expects. Field names must stay in lockstep with buildIndexMapping.
func makeIndexDoc(e *catalog.Entity) map[string]any {
	return map[string]any{
		fieldName:        e.Name,
		fieldDescription: e.Description,
		fieldAuthor:      e.Author,
		fieldTags:        e.Tags,
		fieldCategory:    e.Category,
		fieldPlatforms:   e.Platforms,
		fieldDownloads:   float64(e.Downloads),
		fieldRating:      e.Rating,
		fieldVersion:     e.Version,
		fieldRepository:  e.Repository,
		fieldCreatedAt:   e.CreatedAt,
		fieldUpdatedAt:   e.UpdatedAt,
	}
}

// entityFromFields reconstructs the indexed projection from stored fields.
// The projection is derived data; callers must not treat it as the catalog
// record.
func entityFromFields(family catalog.Family, id string, fields map[string]any) catalog.Entity {
	return catalog.Entity{
		ID:          id,
		Family:      family,
		Name:        stringField(fields, fieldName),
		Description: stringField(fields, fieldDescription),
		Author:      stringField(fields, fieldAuthor),
		Tags:        stringSliceField(fields, fieldTags),
		Category:    stringField(fields, fieldCategory),
		Platforms:   stringSliceField(fields, fieldPlatforms),
		Downloads:   int64(numericField(fields, fieldDownloads)),
		Rating:      numericField(fields, fieldRating),
		Version:     stringField(fields, fieldVersion),
		Repository:  stringField(fields, fieldRepository),
		CreatedAt:   timeField(fields, fieldCreatedAt),
		UpdatedAt:   timeField(fields, fieldUpdatedAt),
	}
}

func stringField(fields map[string]any, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// stringSliceField handles bleve collapsing single-element arrays to scalars.
func stringSliceField(fields map[string]any, name string) []string {
	switch v := fields[name].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func numericField(fields map[string]any, name string) float64 {
	if v, ok := fields[name].(float64); ok {
		return v
	}
	return 0
}

func timeField(fields map[string]any, name string) time.Time {
	if s, ok := fields[name].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
