// Package config provides configuration structures for the search engine.
// It defines index settings, ranking rules, typo tolerance, and faceting
// options.
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// RankingRuleKind names one stage of the ranking-rule chain. Sort
// rules carry a field name and direction; the rest are parameterless.
type RankingRuleKind string

const (
	RuleWords      RankingRuleKind = "words"
	RuleTypo       RankingRuleKind = "typo"
	RuleProximity  RankingRuleKind = "proximity"
	RuleAttribute  RankingRuleKind = "attribute"
	RuleExactness  RankingRuleKind = "exactness"
	RuleSort       RankingRuleKind = "sort"
	RuleAscending  RankingRuleKind = "asc"
	RuleDescending RankingRuleKind = "desc"
)

// RankingRule is one entry in the ordered ranking-rule chain. For Asc/Desc
// rules, Field names the sortable attribute; for every other kind Field is
// empty.
type RankingRule struct {
	Kind  RankingRuleKind `json:"kind"`
	Field string          `json:"field,omitempty"`
}

// DefaultRankingRules is the chain applied when an index declares none
// explicitly.
func DefaultRankingRules() []RankingRule {
	return []RankingRule{
		{Kind: RuleWords},
		{Kind: RuleTypo},
		{Kind: RuleProximity},
		{Kind: RuleAttribute},
		{Kind: RuleExactness},
	}
}

// RankingCriterion is kept for backward-compatible field-level sort
// declarations (used by Asc/Desc ranking rules and the Sort rule).
type RankingCriterion struct {
	Field string `json:"field"`
	Order string `json:"order"` // "asc" | "desc"
}

// TermsMatchingStrategy controls how aggressively the Words rule drops
// query terms when not enough documents match all of them.
type TermsMatchingStrategy string

const (
	MatchAll       TermsMatchingStrategy = "all"
	MatchLast      TermsMatchingStrategy = "last"
	MatchFrequency TermsMatchingStrategy = "frequency"
)

// PrefixSearchMode controls whether the final query term's prefix variants
// are considered, independent of the per-field FieldsWithoutPrefixSearch
// override.
type PrefixSearchMode string

const (
	PrefixIndexingTime PrefixSearchMode = "indexingTime"
	PrefixDisabled     PrefixSearchMode = "disabled"
)

// FacetOrder controls how FacetDistribution orders values within a facet.
type FacetOrder string

const (
	FacetOrderCount FacetOrder = "count"
	FacetOrderAlpha FacetOrder = "alpha"
)

// FacetingSettings bounds facet distribution/search output.
type FacetingSettings struct {
	MaxValuesPerFacet int        `json:"maxValuesPerFacet"`
	SortFacetValuesBy FacetOrder `json:"sortFacetValuesBy"`
}

// DefaultFacetingSettings matches the engine-wide default of 100 values.
func DefaultFacetingSettings() FacetingSettings {
	return FacetingSettings{MaxValuesPerFacet: 100, SortFacetValuesBy: FacetOrderCount}
}

// TypoTolerance groups every knob that affects typo-derivation eligibility.
type TypoTolerance struct {
	Enabled                   bool     `json:"enabled"`
	MinWordSizeFor1Typo       int      `json:"minWordSizeFor1Typo"`
	MinWordSizeFor2Typos      int      `json:"minWordSizeFor2Typos"`
	DisableOnWords            []string `json:"disableOnWords"`
	DisableOnAttributes       []string `json:"disableOnAttributes"`
}

// DefaultTypoTolerance returns the default MinWordSizeFor1Typo/2Typos
// thresholds.
func DefaultTypoTolerance() TypoTolerance {
	return TypoTolerance{Enabled: true, MinWordSizeFor1Typo: 5, MinWordSizeFor2Typos: 9}
}

// IndexSettings contains all configuration for a search index: which fields
// are searchable/filterable/sortable/displayed, ranking-rule order, typo
// tolerance, synonyms, stop words, and faceting.
//
// SearchableFields order matters for search priority: the Attribute ranking
// rule breaks ties by earliest field in this list a query term was found
// in, so higher-priority fields (like "title") rank ahead of lower-priority
// ones (like "description") once the rest of the chain is tied.
type IndexSettings struct {
	Name string `json:"name"`

	// PrimaryKeyField names the document field that holds its external id.
	// Empty means "not yet known"; the indexer infers it from the first
	// ingested batch and persists the inferred name.
	PrimaryKeyField string `json:"primaryKeyField,omitempty"`

	SearchableFields []string `json:"searchableFields"`
	FilterableFields []string `json:"filterableFields"`
	SortableFields   []string `json:"sortableFields"`
	DisplayedFields  []string `json:"displayedFields,omitempty"` // empty means "all fields"

	RankingRules []RankingRule `json:"rankingRules"`

	TypoTolerance TypoTolerance `json:"typoTolerance"`

	FieldsWithoutPrefixSearch []string `json:"fieldsWithoutPrefixSearch"`
	NoTypoToleranceFields     []string `json:"noTypoToleranceFields"`
	NonTypoTolerantWords      []string `json:"nonTypoTolerantWords"`
	DistinctField             string   `json:"distinctField,omitempty"`

	Synonyms  map[string][]string `json:"synonyms,omitempty"`
	StopWords []string            `json:"stopWords,omitempty"`

	Faceting         FacetingSettings `json:"faceting"`
	PrefixSearch     PrefixSearchMode `json:"prefixSearch"`
	FacetSearchFields []string        `json:"facetSearchFields,omitempty"`

	// Embedders holds opaque per-embedder configuration. Embedded-vector
	// model integration is out of scope; this field
	// exists only so settings round-trip without losing caller-supplied
	// embedder configuration.
	Embedders map[string]json.RawMessage `json:"embedders,omitempty"`
}

// DefaultIndexSettings returns the settings a freshly created index gets
// before the caller's SettingsUpdate task, if any, is applied.
func DefaultIndexSettings(name string) IndexSettings {
	return IndexSettings{
		Name:          name,
		RankingRules:  DefaultRankingRules(),
		TypoTolerance: DefaultTypoTolerance(),
		Faceting:      DefaultFacetingSettings(),
		PrefixSearch:  PrefixIndexingTime,
	}
}

// knownFilterOperators lists all filter operators that could conflict with
// field names.
var knownFilterOperators = []string{
	"_contains_any_of",
	"_ncontains",
	"_contains",
	"_exact",
	"_gte",
	"_lte",
	"_gt",
	"_lt",
	"_ne",
	"_op",
}

// ValidateFieldNames checks whether any declared field name could collide
// with a filter operator suffix, which would make filter-key parsing
// ambiguous.
func (settings *IndexSettings) ValidateFieldNames() []string {
	var conflicts []string

	allFields := make([]string, 0)
	allFields = append(allFields, settings.SearchableFields...)
	allFields = append(allFields, settings.FilterableFields...)
	allFields = append(allFields, settings.SortableFields...)
	allFields = append(allFields, settings.FieldsWithoutPrefixSearch...)
	allFields = append(allFields, settings.NoTypoToleranceFields...)
	allFields = append(allFields, settings.NonTypoTolerantWords...)
	if settings.DistinctField != "" {
		allFields = append(allFields, settings.DistinctField)
	}

	for _, field := range allFields {
		for _, op := range knownFilterOperators {
			if strings.HasSuffix(field, op) && field != op {
				conflicts = append(conflicts, fmt.Sprintf("field '%s' ends with operator '%s' which may cause parsing conflicts", field, op))
			}
		}
	}

	return conflicts
}

// IsFilterable reports whether field is declared in FilterableFields.
func (settings *IndexSettings) IsFilterable(field string) bool {
	for _, f := range settings.FilterableFields {
		if f == field {
			return true
		}
	}
	return false
}

// IsSortable reports whether field is declared in SortableFields.
func (settings *IndexSettings) IsSortable(field string) bool {
	for _, f := range settings.SortableFields {
		if f == field {
			return true
		}
	}
	return false
}

// Merge applies non-zero fields of patch onto a copy of settings, the way
// a SettingsUpdate task merges onto existing settings with "later wins per
// field". Zero-value / nil fields in patch are left
// untouched. Name and PrimaryKeyField are never taken from patch.
func (settings IndexSettings) Merge(patch IndexSettings) IndexSettings {
	merged := settings
	if patch.SearchableFields != nil {
		merged.SearchableFields = patch.SearchableFields
	}
	if patch.FilterableFields != nil {
		merged.FilterableFields = patch.FilterableFields
	}
	if patch.SortableFields != nil {
		merged.SortableFields = patch.SortableFields
	}
	if patch.DisplayedFields != nil {
		merged.DisplayedFields = patch.DisplayedFields
	}
	if patch.RankingRules != nil {
		merged.RankingRules = patch.RankingRules
	}
	if patch.FieldsWithoutPrefixSearch != nil {
		merged.FieldsWithoutPrefixSearch = patch.FieldsWithoutPrefixSearch
	}
	if patch.NoTypoToleranceFields != nil {
		merged.NoTypoToleranceFields = patch.NoTypoToleranceFields
	}
	if patch.NonTypoTolerantWords != nil {
		merged.NonTypoTolerantWords = patch.NonTypoTolerantWords
	}
	if patch.DistinctField != "" {
		merged.DistinctField = patch.DistinctField
	}
	if patch.Synonyms != nil {
		merged.Synonyms = patch.Synonyms
	}
	if patch.StopWords != nil {
		merged.StopWords = patch.StopWords
	}
	if patch.Faceting.MaxValuesPerFacet != 0 {
		merged.Faceting = patch.Faceting
	}
	if patch.PrefixSearch != "" {
		merged.PrefixSearch = patch.PrefixSearch
	}
	if patch.Embedders != nil {
		merged.Embedders = patch.Embedders
	}
	if patch.FacetSearchFields != nil {
		merged.FacetSearchFields = patch.FacetSearchFields
	}
	if !reflect.DeepEqual(patch.TypoTolerance, TypoTolerance{}) {
		merged.TypoTolerance = patch.TypoTolerance
	}
	return merged
}

// RequiresReindex reports whether moving from `settings` to `patch`-merged
// settings changes something that affects the *indexing* structure
// (searchable/filterable/sortable fields, prefix-search mode) as opposed to
// search-time-only behavior (typo tolerance, synonyms, stop words).
func (settings IndexSettings) RequiresReindex(next IndexSettings) bool {
	if !stringSlicesEqual(settings.SearchableFields, next.SearchableFields) {
		return true
	}
	if !stringSlicesEqual(settings.FilterableFields, next.FilterableFields) {
		return true
	}
	if !stringSlicesEqual(settings.SortableFields, next.SortableFields) {
		return true
	}
	if !stringSlicesEqual(settings.FieldsWithoutPrefixSearch, next.FieldsWithoutPrefixSearch) {
		return true
	}
	if settings.PrefixSearch != next.PrefixSearch {
		return true
	}
	return false
}

// ApplyDefaults fills in zero-value fields (ranking rules, typo tolerance,
// faceting, prefix-search mode) with their defaults, the way a freshly
// submitted IndexCreate request is completed before it's persisted.
func (settings *IndexSettings) ApplyDefaults() {
	if settings.RankingRules == nil {
		settings.RankingRules = DefaultRankingRules()
	}
	if reflect.DeepEqual(settings.TypoTolerance, TypoTolerance{}) {
		settings.TypoTolerance = DefaultTypoTolerance()
	}
	if settings.Faceting == (FacetingSettings{}) {
		settings.Faceting = DefaultFacetingSettings()
	}
	if settings.PrefixSearch == "" {
		settings.PrefixSearch = PrefixIndexingTime
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
