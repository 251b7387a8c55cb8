// Package queryterm turns a tokenized query into an interned term tree: one
// Term per query word or quoted phrase, each carrying its zero/one/two-typo
// derivations, prefix flag, and synonym/split-word variants. It builds on
// internal/typoutil (levenshtein.go's edit-distance function, typo_finder.go's
// bounded-time typo scan), generalized from a fixed min-word-size pair to
// config.TypoTolerance and wired to an on-disk term source instead of a
// precomputed slice of every indexed word.
package queryterm

import (
	"strings"

	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/internal/tokenizer"
	"github.com/gcbaptista/go-search-engine/internal/typoutil"
	"github.com/gcbaptista/go-search-engine/store"
)

// maxTypoResults bounds how many typo variants one term derives.
const maxTypoResults = 30

// Term is one interned query word or quoted phrase: its exact text plus
// every typo-tolerant variant found in the index, and whether it should
// also match as a prefix.
type Term struct {
	// Text is the original, as-typed word, or the space-joined words of a
	// phrase term.
	Text string
	// MaxTypos is how many typos this term tolerates: 0, 1, or 2, derived
	// from settings.TypoTolerance and the term's own length (a typo on the
	// first letter of the word counts double, so a word that looks like a
	// single substitution away from an indexed term can still be rejected
	// if that substitution lands on the first rune). Always 0 for a phrase
	// term.
	MaxTypos int
	// Variants is Text itself, always first whether or not it is indexed,
	// followed by every distinct indexed word within MaxTypos edits of
	// Text. Empty for a phrase term.
	Variants []string
	// IsPrefix marks a term that should also match as a word-prefix (set
	// on the final word of a query not followed by whitespace, and never
	// set on a phrase term).
	IsPrefix bool
	// Synonyms holds synonym expansions of Text, each itself a candidate
	// word or short phrase. Empty for a phrase term.
	Synonyms [][]string
	// Phrase marks a term derived from a quoted span of the query: it
	// matches only when every word of PhraseWords occurs adjacent, in
	// order, in the same field: no typo tolerance, no prefix matching, no
	// synonyms.
	Phrase bool
	// PhraseWords is the ordered word sequence a phrase term must find
	// adjacent in a field; nil for a non-phrase term.
	PhraseWords []string
	// SplitWords is an optional one-typo "split-words" variant of a
	// non-phrase term: the two-word split of Text (e.g. "icecream" ->
	// "ice", "cream") that co-occurs most often, adjacently, in the index.
	// Nil if the term doesn't tolerate typos or no split scores above zero.
	SplitWords []string
}

// Derive splits query text into words and quoted phrases and derives a
// Term for each, applying settings' stop-word list, typo tolerance, and
// synonym table. tx must be a read transaction against the index the query
// runs against.
func Derive(tx *kv.Tx, settings *config.IndexSettings, queryText string) []Term {
	segments := tokenizer.TokenizeQuery(queryText)
	if len(segments) == 0 {
		return nil
	}

	finder := typoutil.NewTypoFinder()
	disabledWords := toSet(settings.TypoTolerance.DisableOnWords)
	stopWords := toSet(settings.StopWords)
	prefixEnabled := settings.PrefixSearch != config.PrefixDisabled

	terms := make([]Term, 0, len(segments))
	for si, seg := range segments {
		if seg.Phrase && len(seg.Words) > 1 {
			terms = append(terms, Term{
				Text:        strings.Join(seg.Words, " "),
				Phrase:      true,
				PhraseWords: seg.Words,
			})
			continue
		}

		for wi, w := range seg.Words {
			if stopWords[w] || store.IsStopWord(tx, w) {
				continue
			}
			isLastWord := si == len(segments)-1 && wi == len(seg.Words)-1
			term := Term{Text: w, IsPrefix: isLastWord && prefixEnabled}
			term.MaxTypos = maxTyposFor(settings, w, disabledWords)
			term.Variants = []string{w}
			if term.MaxTypos > 0 {
				source := wordSource(tx)
				found := finder.FindTypos(w, source, term.MaxTypos, maxTypoResults)
				if term.MaxTypos < 2 {
					found = rejectFirstRuneOnlyMatches(w, found)
				}
				term.Variants = append(term.Variants, found...)
			}
			if allowsSplitWords(settings, w, disabledWords) {
				term.SplitWords = bestSplitWords(tx, w)
			}
			term.Synonyms = synonymsFor(settings, w)
			terms = append(terms, term)
		}
	}
	return terms
}

// allowsSplitWords reports whether word is eligible for split-words
// derivation: the same exclusion set maxTyposFor applies for typo
// tolerance, since a split-words match is itself a one-typo-tier
// substitute for the literal word.
func allowsSplitWords(settings *config.IndexSettings, word string, disabledWords map[string]bool) bool {
	if !settings.TypoTolerance.Enabled || disabledWords[word] {
		return false
	}
	for _, w := range settings.NonTypoTolerantWords {
		if w == word {
			return false
		}
	}
	n := len([]rune(word))
	return n >= 2 && n >= settings.TypoTolerance.MinWordSizeFor1Typo
}

// adjacentProximity is the proximity value walkProximityPairs
// (internal/indexer) records for two words at consecutive positions: it
// stores dist = 1 + positionDelta, and the smallest positionDelta between
// two distinct words is 1, so truly-adjacent pairs land on proximity 2,
// never 1.
const adjacentProximity = 2

// bestSplitWords finds the two-word split of word whose halves co-occur,
// adjacently, most often in the index, grounded on
// split_best_frequency in meilisearch's query-term derivation: try every
// split point, keep the split with the highest word-pair-proximity
// frequency. Returns nil if no split point's pair appears in the index.
func bestSplitWords(tx *kv.Tx, word string) []string {
	runes := []rune(word)
	var bestLeft, bestRight string
	var bestFreq uint64
	for i := 1; i < len(runes); i++ {
		left, right := string(runes[:i]), string(runes[i:])
		// walkProximityPairs always stores a pair under its two words in
		// lexicographic order, regardless of which occurred first.
		w1, w2 := left, right
		if w1 > w2 {
			w1, w2 = w2, w1
		}
		bm, err := store.WordPairProximityDocIDs(tx, w1, w2, adjacentProximity)
		if err != nil || bm == nil {
			continue
		}
		if freq := bm.GetCardinality(); freq > bestFreq {
			bestFreq = freq
			bestLeft, bestRight = left, right
		}
	}
	if bestFreq == 0 {
		return nil
	}
	return []string{bestLeft, bestRight}
}

// maxTyposFor applies the configured length thresholds: below
// MinWordSizeFor1Typo, zero typos; below MinWordSizeFor2Typos, one typo;
// otherwise two. Fields/words opted out of typo tolerance always get zero.
func maxTyposFor(settings *config.IndexSettings, word string, disabledWords map[string]bool) int {
	if !settings.TypoTolerance.Enabled || disabledWords[word] {
		return 0
	}
	for _, w := range settings.NonTypoTolerantWords {
		if w == word {
			return 0
		}
	}
	n := len([]rune(word))
	if n < settings.TypoTolerance.MinWordSizeFor1Typo {
		return 0
	}
	if n < settings.TypoTolerance.MinWordSizeFor2Typos {
		return 1
	}
	return 2
}

// rejectFirstRuneOnlyMatches drops candidates whose only difference from
// word is its first rune when that would otherwise be accepted at distance
// 1: a first-letter typo counts as two edits here, not one, so a plain
// edit-distance scan that counted it as a single substitution needs this
// adjustment layered on top of typoutil.TypoFinder's generic distance
// measure. Derive applies it to one-typo terms only: a two-typo term keeps
// such a candidate, whose doubled cost still fits its budget. A candidate
// at distance 2 whose edits include the first rune is not re-costed.
func rejectFirstRuneOnlyMatches(word string, candidates []string) []string {
	wr := []rune(word)
	if len(wr) == 0 {
		return candidates
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		cr := []rune(c)
		if firstRuneOnlyDiffers(wr, cr) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func firstRuneOnlyDiffers(a, b []rune) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	if a[0] == b[0] {
		return false
	}
	for i := 1; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// synonymsFor returns the configured synonym expansions for word, each
// entry itself tokenized into a word sequence so a multi-word synonym
// ("ny" -> "new york") is handled the same way a literal phrase is.
func synonymsFor(settings *config.IndexSettings, word string) [][]string {
	raw, ok := settings.Synonyms[word]
	if !ok {
		return nil
	}
	out := make([][]string, 0, len(raw))
	for _, phrase := range raw {
		out = append(out, tokenizer.Tokenize(phrase))
	}
	return out
}

// wordSource adapts store's word-docids bucket into a typoutil.TermSource,
// walking every distinct indexed word without materializing them all into
// a slice up front.
func wordSource(tx *kv.Tx) typoutil.TermSource {
	return func(yield func(word string) bool) {
		store.WalkWords(tx, func(word string) bool {
			return yield(word)
		})
	}
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[strings.ToLower(i)] = true
	}
	return s
}
