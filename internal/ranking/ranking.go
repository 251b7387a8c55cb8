// Package ranking orders a candidate document set by the configured
// ranking-rule chain: Words, Typo, Proximity,
// Attribute, Exactness, Sort, Asc(f), Desc(f), each rule breaking ties left
// by the one before it.
//
// This package uses an ordered-rule-chain idiom: instead of each rule
// being a lazy bucket iterator that requests its next parent bucket only
// when the caller asks for more results, each rule here contributes one
// comparison key to a single stable multi-key sort over the full candidate
// set. For a one-shot ranked page (this module never streams results), a
// stable sort by the same ordered keys a bucket-iterator chain would peel
// off one at a time produces the identical document order; the chain's
// laziness matters for incremental result streaming, which this package
// does not implement.
package ranking

import (
	"sort"

	"github.com/gcbaptista/go-search-engine/config"
)

// ExactnessPhase classifies how thoroughly a document's matched fields
// equal the query, per the Open Question decision recorded in DESIGN.md:
// a phrase match by itself never promotes a document into PhaseExactWord,
// so a quoted phrase can't outrank a plain query whose every word matched
// exactly; the attribute-level phases compare raw field text against the
// raw query and apply regardless of how the terms matched.
type ExactnessPhase int

const (
	// PhaseExactAttribute is a document whose field value (after
	// normalization) equals the query exactly.
	PhaseExactAttribute ExactnessPhase = iota
	// PhaseAttributeStartsWith is a document whose field value starts with
	// the whole query at a word boundary without equalling it.
	PhaseAttributeStartsWith
	// PhaseExactWord is a document where every query term matched some
	// field as an exact (non-typo, non-prefix-only) whole word.
	PhaseExactWord
	// PhaseOther is everything else: partial term coverage, typo matches,
	// prefix-only matches, or phrase-derived matches. Documents here are
	// ordered among themselves by ExactTerms, so the largest exactly-present
	// subset of query terms still wins within the phase.
	PhaseOther
)

// Candidate is one document's precomputed ranking inputs, built by the
// search orchestrator from query-term match data before ranking runs.
type Candidate struct {
	DocID uint32

	// MatchedTerms / TotalTerms feed the Words rule: documents matching
	// more of the query's terms rank ahead of documents matching fewer.
	MatchedTerms int
	TotalTerms   int

	// TypoSum is the total typo count across every matched term; lower is
	// better (feeds the Typo rule).
	TypoSum int

	// ProximitySum is the sum of word-pair proximities (1 + word-index
	// distance, capped at 7 per field) between consecutive matched query
	// terms; lower is better (feeds the Proximity rule). A document with
	// fewer than two matched terms contributing a pair has ProximitySum 0
	// and ties with every other such document at this rule.
	ProximitySum int

	// BestFieldRank is the index, within settings.SearchableFields, of the
	// earliest field any query term matched in; lower is better (feeds the
	// Attribute rule).
	BestFieldRank int

	// Exactness feeds the Exactness rule; lower phase value is better.
	Exactness ExactnessPhase

	// ExactTerms counts the query terms this document matched with no typo
	// and no phrase/split substitution; higher is better, breaking ties
	// between documents in the same exactness phase.
	ExactTerms int
}

// FieldValueFunc resolves a document's value for a sortable field, used by
// Sort/Asc/Desc rules. ok is false if the document has no value for field.
type FieldValueFunc func(docID uint32, field string) (value interface{}, ok bool)

// Rank orders candidates by rules, breaking ties in order, and returns a
// new sorted slice (candidates is not mutated in place beyond sort.Stable's
// own element swaps on the copy made here).
func Rank(rules []config.RankingRule, getField FieldValueFunc, candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for _, rule := range rules {
			cmp := compare(rule, getField, a, b)
			if cmp != 0 {
				return cmp < 0
			}
		}
		return a.DocID < b.DocID
	})
	return out
}

// compare returns <0 if a should rank ahead of b under rule, >0 if b should,
// 0 if the rule doesn't distinguish them.
func compare(rule config.RankingRule, getField FieldValueFunc, a, b Candidate) int {
	switch rule.Kind {
	case config.RuleWords:
		// More matched terms (relative to the query) ranks first.
		return -intCompare(a.MatchedTerms, b.MatchedTerms)
	case config.RuleTypo:
		return intCompare(a.TypoSum, b.TypoSum)
	case config.RuleProximity:
		return intCompare(a.ProximitySum, b.ProximitySum)
	case config.RuleAttribute:
		return intCompare(a.BestFieldRank, b.BestFieldRank)
	case config.RuleExactness:
		if c := intCompare(int(a.Exactness), int(b.Exactness)); c != 0 {
			return c
		}
		return -intCompare(a.ExactTerms, b.ExactTerms)
	case config.RuleSort, config.RuleAscending:
		return compareFieldValues(getField, rule.Field, a.DocID, b.DocID, true)
	case config.RuleDescending:
		return compareFieldValues(getField, rule.Field, a.DocID, b.DocID, false)
	default:
		return 0
	}
}

func intCompare(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareFieldValues orders two documents by a sortable field's value.
// Documents missing the field sort after documents that have it, regardless
// of direction, matching the common "nulls last" convention.
func compareFieldValues(getField FieldValueFunc, field string, aID, bID uint32, ascending bool) int {
	av, aok := getField(aID, field)
	bv, bok := getField(bID, field)
	if !aok && !bok {
		return 0
	}
	if !aok {
		return 1
	}
	if !bok {
		return -1
	}

	cmp := compareValues(av, bv)
	if !ascending {
		cmp = -cmp
	}
	return cmp
}

func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}
