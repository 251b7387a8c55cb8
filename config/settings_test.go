package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFieldNames_DetectsOperatorSuffixCollisions(t *testing.T) {
	tests := []struct {
		name           string
		settings       IndexSettings
		expectedErrors int
	}{
		{
			name: "no conflicts",
			settings: IndexSettings{
				SearchableFields: []string{"title", "content"},
				FilterableFields: []string{"category", "year"},
			},
			expectedErrors: 0,
		},
		{
			name: "field name ending in an operator suffix",
			settings: IndexSettings{
				FilterableFields: []string{"price_gte"}, // ends with "_gte", so it is reported
			},
			expectedErrors: 1,
		},
		{
			name: "field literally ending with an operator token",
			settings: IndexSettings{
				FilterableFields: []string{"amount_gte"},
				SortableFields:   []string{"created_at_gt"},
			},
			expectedErrors: 2,
		},
		{
			name: "distinct field collision",
			settings: IndexSettings{
				DistinctField: "id_ne",
			},
			expectedErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.settings.ValidateFieldNames()
			assert.Len(t, errs, tt.expectedErrors)
		})
	}
}

func TestMerge_LaterWinsPerField(t *testing.T) {
	base := DefaultIndexSettings("movies")
	base.SearchableFields = []string{"title"}
	base.StopWords = []string{"the"}

	patch := IndexSettings{
		FilterableFields: []string{"year"},
	}

	merged := base.Merge(patch)

	assert.Equal(t, []string{"title"}, merged.SearchableFields, "untouched fields survive the merge")
	assert.Equal(t, []string{"year"}, merged.FilterableFields, "patched fields win")
	assert.Equal(t, []string{"the"}, merged.StopWords, "fields absent from the patch are untouched")
}

func TestRequiresReindex(t *testing.T) {
	base := DefaultIndexSettings("movies")
	base.SearchableFields = []string{"title", "overview"}

	t.Run("changing searchable fields requires reindex", func(t *testing.T) {
		next := base
		next.SearchableFields = []string{"title"}
		assert.True(t, base.RequiresReindex(next))
	})

	t.Run("changing typo tolerance does not require reindex", func(t *testing.T) {
		next := base
		next.TypoTolerance.MinWordSizeFor1Typo = 3
		assert.False(t, base.RequiresReindex(next))
	})

	t.Run("changing stop words does not require reindex", func(t *testing.T) {
		next := base
		next.StopWords = []string{"a", "the"}
		assert.False(t, base.RequiresReindex(next))
	})
}
