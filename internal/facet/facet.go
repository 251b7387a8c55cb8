// Package facet computes facet distributions and facet search over an
// index's facet trees: values are compared case-insensitively after
// trimming, and a facet-search query matches values by prefix rather than
// full-text.
package facet

import (
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/store"
)

// ValueCount is one distinct facet value and how many of the candidate
// documents carry it.
type ValueCount struct {
	Value string
	Count int
}

// Distribution computes, for each requested facet field, the count of
// candidate documents carrying each distinct value, bounded and ordered by
// settings.Faceting.
func Distribution(tx *kv.Tx, settings *config.IndexSettings, candidates *roaring.Bitmap, fields []string) (map[string][]ValueCount, error) {
	out := make(map[string][]ValueCount, len(fields))
	for _, field := range fields {
		fieldID, ok := store.LookupFieldID(tx, field)
		if !ok {
			out[field] = nil
			continue
		}

		counts, err := valueCounts(tx, fieldID, candidates)
		if err != nil {
			return nil, err
		}

		switch settings.Faceting.SortFacetValuesBy {
		case config.FacetOrderAlpha:
			sort.Slice(counts, func(i, j int) bool { return counts[i].Value < counts[j].Value })
		default:
			sort.Slice(counts, func(i, j int) bool {
				if counts[i].Count != counts[j].Count {
					return counts[i].Count > counts[j].Count
				}
				return counts[i].Value < counts[j].Value
			})
		}

		limit := settings.Faceting.MaxValuesPerFacet
		if limit > 0 && len(counts) > limit {
			counts = counts[:limit]
		}
		out[field] = counts
	}
	return out, nil
}

func valueCounts(tx *kv.Tx, fieldID uint16, candidates *roaring.Bitmap) ([]ValueCount, error) {
	var counts []ValueCount

	strVals, err := store.StringFacetValues(tx, fieldID)
	if err != nil {
		return nil, err
	}
	for _, fv := range strVals {
		n := intersectionCount(fv.Docs, candidates)
		if n > 0 {
			counts = append(counts, ValueCount{Value: string(fv.Value), Count: n})
		}
	}

	numVals, err := store.NumericFacetValuesInRange(tx, fieldID, nil, nil)
	if err != nil {
		return nil, err
	}
	for _, fv := range numVals {
		n, decodeErr := kv.DecodeInt64(fv.Value)
		if decodeErr != nil {
			continue
		}
		c := intersectionCount(fv.Docs, candidates)
		if c > 0 {
			counts = append(counts, ValueCount{Value: strconv.FormatInt(n, 10), Count: c})
		}
	}

	return counts, nil
}

func intersectionCount(a, b *roaring.Bitmap) int {
	if a == nil || b == nil {
		return 0
	}
	return int(a.AndCardinality(b))
}

// Search returns the string facet values for field whose normalized value
// starts with the normalized query, each paired with how many documents in
// the whole index (not just a search's candidate set) carry it. It errors
// via the caller's own check if the field isn't in
// settings.FacetSearchFields; this package only implements the lookup, the
// caller enforces "_facetSearchDisabled"-style policy.
func Search(tx *kv.Tx, fieldID uint16, query string) ([]ValueCount, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	values, err := store.StringFacetValues(tx, fieldID)
	if err != nil {
		return nil, err
	}
	var out []ValueCount
	for _, fv := range values {
		v := string(fv.Value)
		if query == "" || strings.HasPrefix(v, query) {
			out = append(out, ValueCount{Value: v, Count: int(fv.Docs.GetCardinality())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}
