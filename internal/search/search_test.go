package search_test

import (
	"path/filepath"
	"testing"

	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/filter"
	"github.com/gcbaptista/go-search-engine/internal/indexer"
	"github.com/gcbaptista/go-search-engine/internal/search"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/gcbaptista/go-search-engine/store"
	"github.com/stretchr/testify/require"
)

func seededIndex(t *testing.T) (*store.Index, *config.IndexSettings) {
	t.Helper()
	idx, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	settings := config.DefaultIndexSettings("movies")
	settings.SearchableFields = []string{"title", "overview"}
	settings.FilterableFields = []string{"genre", "year"}
	settings.SortableFields = []string{"year"}

	docs := []model.Document{
		{"id": "matrix", "title": "The Matrix", "overview": "A hacker discovers reality", "genre": "Action", "year": float64(1999)},
		{"id": "inception", "title": "Inception", "overview": "A thief steals secrets from dreams", "genre": "Action", "year": float64(2010)},
		{"id": "amelie", "title": "Amelie", "overview": "A quiet life in Paris", "genre": "Romance", "year": float64(2001)},
	}
	_, err = indexer.AddDocuments(idx, &settings, docs, 1, func() bool { return false })
	require.NoError(t, err)

	return idx, &settings
}

func docIDsOf(t *testing.T, resp search.Response) []string {
	t.Helper()
	out := make([]string, len(resp.Hits))
	for i, hit := range resp.Hits {
		out[i] = hit.Document["id"].(string)
	}
	return out
}

func TestRunMatchesByTitle(t *testing.T) {
	idx, settings := seededIndex(t)
	resp, err := search.Run(idx, settings, search.Request{Query: "matrix", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	require.Equal(t, []string{"matrix"}, docIDsOf(t, resp))
}

func TestRunFiltersCandidatesBeforeMatching(t *testing.T) {
	idx, settings := seededIndex(t)
	node := &filter.Node{Kind: filter.Leaf, Condition: filter.Condition{Field: "genre", Value: "Romance"}}
	resp, err := search.Run(idx, settings, search.Request{Query: "a", Filter: node, Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"amelie"}, docIDsOf(t, resp))
}

func TestRunPaginatesResults(t *testing.T) {
	idx, settings := seededIndex(t)
	resp, err := search.Run(idx, settings, search.Request{Query: "a", Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Total)
	require.Len(t, resp.Hits, 2)

	resp2, err := search.Run(idx, settings, search.Request{Query: "a", Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, resp2.Hits, 1)
}

func TestRunHighlightsRequestedAttributes(t *testing.T) {
	idx, settings := seededIndex(t)
	resp, err := search.Run(idx, settings, search.Request{
		Query: "matrix", Page: 1, PageSize: 10,
		AttributesToHighlight: []string{"title"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	require.Contains(t, resp.Hits[0].Highlight["title"], "<em>")
}

func TestRunHighlightUsesCustomTags(t *testing.T) {
	idx, settings := seededIndex(t)
	resp, err := search.Run(idx, settings, search.Request{
		Query: "matrix", Page: 1, PageSize: 10,
		AttributesToHighlight: []string{"title"},
		HighlightPreTag:       "[[",
		HighlightPostTag:      "]]",
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	require.Contains(t, resp.Hits[0].Highlight["title"], "[[Matrix]]")
	require.NotContains(t, resp.Hits[0].Highlight["title"], "<em>")
}

func TestRunCropsRequestedAttributes(t *testing.T) {
	idx, settings := seededIndex(t)
	resp, err := search.Run(idx, settings, search.Request{
		Query: "hacker", Page: 1, PageSize: 10,
		AttributesToCrop: []string{"overview"},
		CropLength:       2,
		CropMarker:       "...",
	})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	require.Equal(t, "A hacker ...", resp.Hits[0].Crop["overview"])
}

func TestRunFacetDistributionOverMatchedDocuments(t *testing.T) {
	idx, settings := seededIndex(t)
	resp, err := search.Run(idx, settings, search.Request{
		Query: "a", Page: 1, PageSize: 10,
		FacetFields: []string{"genre"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.FacetDistribution["genre"])
}

func TestRunRestrictSearchableFieldsNarrowsMatching(t *testing.T) {
	idx, settings := seededIndex(t)
	resp, err := search.Run(idx, settings, search.Request{
		Query: "reality", Page: 1, PageSize: 10,
		RestrictSearchableFields: []string{"title"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, resp.Total)
}

func TestRunNoMatchesReturnsEmptyPage(t *testing.T) {
	idx, settings := seededIndex(t)
	resp, err := search.Run(idx, settings, search.Request{Query: "nonexistentword", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 0, resp.Total)
	require.Empty(t, resp.Hits)
}

func rankedIndex(t *testing.T) (*store.Index, *config.IndexSettings) {
	t.Helper()
	idx, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	settings := config.DefaultIndexSettings("texts")
	settings.SearchableFields = []string{"text"}

	docs := []model.Document{
		{"id": "full", "text": "the quick brown fox"},
		{"id": "three", "text": "quick brown fox jumps"},
		{"id": "two", "text": "brown fox jumps over"},
	}
	_, err = indexer.AddDocuments(idx, &settings, docs, 1, func() bool { return false })
	require.NoError(t, err)

	return idx, &settings
}

func TestRunRanksPartialMatchesAfterFullMatches(t *testing.T) {
	idx, settings := rankedIndex(t)

	resp, err := search.Run(idx, settings, search.Request{Query: "the quick brown fox", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Total, "documents matching fewer terms still rank, in later buckets")
	require.Equal(t, []string{"full", "three", "two"}, docIDsOf(t, resp))
}

func TestRunMatchAllStrategyRequiresEveryTerm(t *testing.T) {
	idx, settings := rankedIndex(t)

	resp, err := search.Run(idx, settings, search.Request{
		Query: "the quick brown fox", Page: 1, PageSize: 10,
		MatchingStrategy: config.MatchAll,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"full"}, docIDsOf(t, resp))
}

func TestRunExactnessPrefersEqualThenPrefixAttribute(t *testing.T) {
	idx, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	settings := config.DefaultIndexSettings("texts")
	settings.SearchableFields = []string{"text"}
	// Words then Exactness only, so the attribute-level phases decide the
	// order among documents that all match every term.
	settings.RankingRules = []config.RankingRule{{Kind: config.RuleWords}, {Kind: config.RuleExactness}}

	docs := []model.Document{
		{"id": "scattered", "text": "fox saw the quick old brown shoe"},
		{"id": "prefix", "text": "quick brown fox jumps high"},
		{"id": "equal", "text": "Quick Brown Fox"},
	}
	_, err = indexer.AddDocuments(idx, &settings, docs, 1, func() bool { return false })
	require.NoError(t, err)

	resp, err := search.Run(idx, &settings, search.Request{Query: "quick brown fox", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"equal", "prefix", "scattered"}, docIDsOf(t, resp))
}
