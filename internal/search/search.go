// Package search implements the query pipeline: tokenize/derive query
// terms, evaluate the filter tree into a candidate bitmap, match query
// terms against the index's word postings to narrow and score that
// candidate set, rank the result with the configured ranking-rule chain,
// then hydrate, highlight, and project the winning page of documents. It
// uses bitmap-driven matching against internal/queryterm, internal/filter,
// and internal/ranking instead of an in-memory per-document BM25 scorer,
// since the ranking model here is an ordered rule chain, not a single
// relevance score.
package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/facet"
	"github.com/gcbaptista/go-search-engine/internal/filter"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/internal/queryterm"
	"github.com/gcbaptista/go-search-engine/internal/ranking"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/gcbaptista/go-search-engine/store"

	"github.com/RoaringBitmap/roaring/v2"
)

// Request is one search call's parameters.
type Request struct {
	Query                    string
	Filter                   *filter.Node
	MatchingStrategy         config.TermsMatchingStrategy
	Page                     int
	PageSize                 int
	RestrictSearchableFields []string
	RetrievableFields        []string
	AttributesToHighlight    []string
	AttributesToCrop         []string
	CropLength               int
	CropMarker               string
	HighlightPreTag          string
	HighlightPostTag         string
	FacetFields              []string
}

const (
	defaultCropLength    = 10
	defaultCropMarker    = "…"
	defaultHighlightPre  = "<em>"
	defaultHighlightPost = "</em>"
)

// Hit is one document in a result page, with per-field highlighted
// snippets for any field named in AttributesToHighlight.
type Hit struct {
	Document  model.Document
	Highlight map[string]string
	Crop      map[string]string
}

// Response is one search call's result.
type Response struct {
	Hits              []Hit
	Total             int
	Page              int
	PageSize          int
	FacetDistribution map[string][]facet.ValueCount
}

const (
	defaultPageSize = 20
	maxPageSize     = 1000
)

// Run executes req against idx under settings.
func Run(idx *store.Index, settings *config.IndexSettings, req Request) (Response, error) {
	resp := Response{Page: req.Page, PageSize: normalizePageSize(req.PageSize)}
	if resp.Page < 1 {
		resp.Page = 1
	}

	err := idx.View(func(tx *kv.Tx) error {
		universe, err := candidateUniverse(tx, settings, req.Filter)
		if err != nil {
			return err
		}

		terms := queryterm.Derive(tx, settings, req.Query)
		searchableFields := settings.SearchableFields
		if len(req.RestrictSearchableFields) > 0 {
			searchableFields = req.RestrictSearchableFields
		}

		matches, err := matchTerms(tx, terms, searchableFields, req.MatchingStrategy, universe)
		if err != nil {
			return err
		}

		candidates := toRankingCandidates(tx, req.Query, matches, len(terms), searchableFields)
		fieldValue := func(docID uint32, field string) (interface{}, bool) {
			doc, ok, err := store.GetDocument(tx, docID)
			if err != nil || !ok {
				return nil, false
			}
			v, exists := doc[field]
			return v, exists
		}
		ranked := ranking.Rank(settings.RankingRules, fieldValue, candidates)

		resp.Total = len(ranked)
		start, end := page(resp.Page, resp.PageSize, len(ranked))
		pageSlice := ranked[start:end]

		for _, c := range pageSlice {
			doc, ok, err := store.GetDocument(tx, c.DocID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			hit := Hit{Document: projectFields(doc, req.RetrievableFields)}
			preTag, postTag := req.HighlightPreTag, req.HighlightPostTag
			if preTag == "" {
				preTag = defaultHighlightPre
			}
			if postTag == "" {
				postTag = defaultHighlightPost
			}
			if len(req.AttributesToHighlight) > 0 {
				hit.Highlight = highlight(doc, req.AttributesToHighlight, matches[c.DocID], preTag, postTag)
			}
			if len(req.AttributesToCrop) > 0 {
				marker := req.CropMarker
				if marker == "" {
					marker = defaultCropMarker
				}
				length := req.CropLength
				if length <= 0 {
					length = defaultCropLength
				}
				hit.Crop = crop(doc, req.AttributesToCrop, matches[c.DocID], length, marker)
			}
			resp.Hits = append(resp.Hits, hit)
		}

		if len(req.FacetFields) > 0 {
			facetUniverse := roaring.New()
			for _, c := range ranked {
				facetUniverse.Add(c.DocID)
			}
			dist, err := facet.Distribution(tx, settings, facetUniverse, req.FacetFields)
			if err != nil {
				return err
			}
			resp.FacetDistribution = dist
		}
		return nil
	})
	return resp, err
}

func normalizePageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

func page(pageNum, pageSize, total int) (start, end int) {
	start = (pageNum - 1) * pageSize
	if start > total {
		start = total
	}
	end = start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

func candidateUniverse(tx *kv.Tx, settings *config.IndexSettings, node *filter.Node) (*roaring.Bitmap, error) {
	if node == nil {
		return store.AllDocumentIDs(tx)
	}
	return filter.Eval(tx, settings, *node)
}

// termMatch is what matching one query term against the index found for one
// document: the matched word (or phrase) itself, its typo count, and the
// positions it occupies in every searchable field it hit (feeding the
// Proximity and Attribute rules, and highlight's word list).
type termMatch struct {
	word      string
	typos     int
	fieldHits map[string][]uint32 // field -> positions
	// phraseDerived marks a match that came from a quoted phrase or a
	// split-words substitution rather than the literal query word; per the
	// Exactness rule's phrase decision (DESIGN.md), such a match never
	// counts toward PhaseExactWord.
	phraseDerived bool
}

// docMatches collects, per document, the best match found for each query
// term index.
type docMatches map[uint32]map[int]termMatch

// matchTerms resolves every query term against the index and decides, per
// document, whether it stays in the result set. Inclusion is per document:
// any candidate matching at least one term is kept, and the Words rule
// ranks documents by how many terms they matched, so a document matching
// fewer terms lands in a later bucket instead of vanishing whenever some
// other document happens to match more. Only MatchAll hard-requires every
// term; Last and Frequency both reduce to the per-document count here,
// since a count-ordered sort already yields the bucket sequence those
// strategies would stream.
func matchTerms(tx *kv.Tx, terms []queryterm.Term, searchableFields []string, strategy config.TermsMatchingStrategy, universe *roaring.Bitmap) (docMatches, error) {
	if len(terms) == 0 {
		return docMatches{}, nil
	}

	perTerm := make([]map[uint32]termMatch, len(terms))
	for i, term := range terms {
		var m map[uint32]termMatch
		var err error
		if term.Phrase {
			m, err = phraseMatch(tx, term.PhraseWords, searchableFields, 0)
		} else {
			m, err = matchOneTerm(tx, term, searchableFields)
		}
		if err != nil {
			return nil, err
		}
		perTerm[i] = m
	}

	out := make(docMatches)
	for docID := range candidateDocIDs(universe, perTerm) {
		perDoc := make(map[int]termMatch)
		for i, m := range perTerm {
			if tm, ok := m[docID]; ok {
				perDoc[i] = tm
			}
		}
		if len(perDoc) == 0 {
			continue
		}
		if strategy == config.MatchAll && len(perDoc) < len(terms) {
			continue
		}
		out[docID] = perDoc
	}
	return out, nil
}

// candidateDocIDs returns the document ids within universe that matched at
// least one query term.
func candidateDocIDs(universe *roaring.Bitmap, perTerm []map[uint32]termMatch) map[uint32]struct{} {
	out := make(map[uint32]struct{})
	for _, m := range perTerm {
		for docID := range m {
			if universe == nil || universe.Contains(docID) {
				out[docID] = struct{}{}
			}
		}
	}
	return out
}

// matchOneTerm finds every document containing any of term's variants
// (typo-tolerant exact words, plus a prefix match on term.Text when
// term.IsPrefix), recording the fewest-typo match and the positions it
// occupies in each searchable field. Field attribution comes from the
// per-document field-word records, so a word occurring only outside
// searchableFields does not count as a match; that is what makes
// RestrictSearchableFields an actual restriction.
func matchOneTerm(tx *kv.Tx, term queryterm.Term, searchableFields []string) (map[uint32]termMatch, error) {
	out := make(map[uint32]termMatch)

	addWord := func(word string, typos int) error {
		bm, err := store.WordDocIDs(tx, word)
		if err != nil {
			return err
		}
		if bm == nil {
			return nil
		}
		it := bm.Iterator()
		for it.HasNext() {
			docID := it.Next()
			if existing, ok := out[docID]; ok && existing.typos <= typos {
				continue
			}
			hits := make(map[string][]uint32)
			for _, field := range searchableFields {
				rec, ok, err := store.GetDocFieldWords(tx, docID, field)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if positions := rec.Positions[word]; len(positions) > 0 {
					hits[field] = positions
				}
			}
			if len(hits) == 0 {
				continue
			}
			out[docID] = termMatch{word: word, typos: typos, fieldHits: hits}
		}
		return nil
	}

	for i, variant := range term.Variants {
		typos := 0
		if i > 0 {
			typos = 1
		}
		if err := addWord(variant, typos); err != nil {
			return nil, err
		}
	}

	// Synonym words match like a typo-tolerant derivation: they stand in
	// for the original term but never outrank an exact or edit-distance
	// match of the typed word itself.
	for _, synonym := range term.Synonyms {
		for _, word := range synonym {
			if err := addWord(word, 1); err != nil {
				return nil, err
			}
		}
	}

	if term.IsPrefix {
		bm, err := store.WordPrefixDocIDs(tx, term.Text)
		if err != nil {
			return nil, err
		}
		if bm != nil {
			it := bm.Iterator()
			for it.HasNext() {
				docID := it.Next()
				if _, ok := out[docID]; ok {
					continue
				}
				hits := make(map[string][]uint32)
				for _, field := range searchableFields {
					rec, ok, err := store.GetDocFieldWords(tx, docID, field)
					if err != nil {
						return nil, err
					}
					if !ok {
						continue
					}
					for w, positions := range rec.Positions {
						if strings.HasPrefix(w, term.Text) && len(positions) > 0 {
							hits[field] = positions
							break
						}
					}
				}
				if len(hits) == 0 {
					continue
				}
				out[docID] = termMatch{word: term.Text, typos: 0, fieldHits: hits}
			}
		}
	}

	if len(term.SplitWords) == 2 {
		split, err := phraseMatch(tx, term.SplitWords, searchableFields, 1)
		if err != nil {
			return nil, err
		}
		for docID, tm := range split {
			if existing, ok := out[docID]; ok && existing.typos <= tm.typos {
				continue
			}
			out[docID] = tm
		}
	}

	return out, nil
}

// phraseMatch finds documents where every word in words occurs, in order,
// at consecutive positions in some searchable field, the adjacency rule a
// quoted phrase and a split-words candidate both need, with no typo
// tolerance and no prefix matching. typos is recorded on every match
// produced (0 for a literal quoted phrase, 1 for a split-words
// substitution, mirroring the weight a typo-derived variant gets).
func phraseMatch(tx *kv.Tx, words []string, searchableFields []string, typos int) (map[uint32]termMatch, error) {
	if len(words) < 2 {
		return nil, nil
	}

	candidates, err := store.WordDocIDs(tx, words[0])
	if err != nil {
		return nil, err
	}
	if candidates == nil {
		return nil, nil
	}
	for _, w := range words[1:] {
		bm, err := store.WordDocIDs(tx, w)
		if err != nil {
			return nil, err
		}
		if bm == nil {
			return nil, nil
		}
		candidates.And(bm)
	}

	out := make(map[uint32]termMatch)
	it := candidates.Iterator()
	for it.HasNext() {
		docID := it.Next()
		hits := make(map[string][]uint32)
		for _, field := range searchableFields {
			rec, ok, err := store.GetDocFieldWords(tx, docID, field)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			positions := make([][]uint32, len(words))
			complete := true
			for i, w := range words {
				p := rec.Positions[w]
				if len(p) == 0 {
					complete = false
					break
				}
				positions[i] = p
			}
			if !complete || !hasAdjacentRun(positions) {
				continue
			}
			hits[field] = positions[0]
		}
		if len(hits) == 0 {
			continue
		}
		out[docID] = termMatch{word: strings.Join(words, " "), typos: typos, phraseDerived: true, fieldHits: hits}
	}
	return out, nil
}

// hasAdjacentRun reports whether some position in positions[0] begins a run
// that continues, word by word, at consecutive positions through the rest
// of positions.
func hasAdjacentRun(positions [][]uint32) bool {
	if len(positions) == 0 {
		return false
	}
	for _, p0 := range positions[0] {
		ok := true
		for i := 1; i < len(positions); i++ {
			if !containsPosition(positions[i], p0+uint32(i)) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func containsPosition(positions []uint32, want uint32) bool {
	for _, p := range positions {
		if p == want {
			return true
		}
	}
	return false
}

func toRankingCandidates(tx *kv.Tx, query string, matches docMatches, totalTerms int, searchableFields []string) []ranking.Candidate {
	fieldRank := make(map[string]int, len(searchableFields))
	for i, f := range searchableFields {
		fieldRank[f] = i
	}
	normQuery := normalizeText(query)

	out := make([]ranking.Candidate, 0, len(matches))
	for docID, perTerm := range matches {
		c := ranking.Candidate{DocID: docID, TotalTerms: totalTerms, BestFieldRank: len(searchableFields)}
		allExact := totalTerms > 0
		for _, tm := range perTerm {
			c.MatchedTerms++
			c.TypoSum += tm.typos
			if tm.typos == 0 && !tm.phraseDerived {
				c.ExactTerms++
			} else {
				allExact = false
			}
			for field := range tm.fieldHits {
				if r, ok := fieldRank[field]; ok && r < c.BestFieldRank {
					c.BestFieldRank = r
				}
			}
		}
		c.ProximitySum = proximitySum(perTerm)
		c.Exactness = exactnessPhase(tx, docID, normQuery, searchableFields, c.MatchedTerms == totalTerms && allExact)
		out = append(out, c)
	}
	return out
}

// exactnessPhase classifies one matched document for the Exactness rule: a
// searchable field whose normalized text equals the whole query ranks
// first, a field starting with the query at a word boundary second, a
// document whose every query term matched as an exact whole word third,
// everything else last. Quoted-phrase and split-word matches never reach
// the exact-word phase (allWordsExact is already false for them), but the
// raw-text comparisons still apply: a field that literally equals the
// query is exact no matter how its terms were matched.
func exactnessPhase(tx *kv.Tx, docID uint32, normQuery string, searchableFields []string, allWordsExact bool) ranking.ExactnessPhase {
	if normQuery != "" {
		if doc, ok, err := store.GetDocument(tx, docID); err == nil && ok {
			startsWith := false
			for _, field := range searchableFields {
				text, ok := fieldText(doc, field)
				if !ok {
					continue
				}
				norm := normalizeText(text)
				if norm == normQuery {
					return ranking.PhaseExactAttribute
				}
				if strings.HasPrefix(norm, normQuery+" ") {
					startsWith = true
				}
			}
			if startsWith {
				return ranking.PhaseAttributeStartsWith
			}
		}
	}
	if allWordsExact {
		return ranking.PhaseExactWord
	}
	return ranking.PhaseOther
}

// normalizeText lowercases and collapses whitespace so field-vs-query
// comparisons are word-aligned rather than byte-exact.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// proximitySum adds up, for each pair of consecutively-indexed matched
// query terms sharing a field, the 1+distance proximity between their
// closest occurrence in that field, capped the same way indexing caps it.
// Terms with no shared field contribute nothing, tying with every other
// such document on the Proximity rule.
func proximitySum(perTerm map[int]termMatch) int {
	indices := make([]int, 0, len(perTerm))
	for i := range perTerm {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	sum := 0
	for k := 1; k < len(indices); k++ {
		a, b := perTerm[indices[k-1]], perTerm[indices[k]]
		best := -1
		for field, aPositions := range a.fieldHits {
			bPositions, ok := b.fieldHits[field]
			if !ok {
				continue
			}
			d := closestDistance(aPositions, bPositions)
			if d < 0 {
				continue
			}
			prox := 1 + d
			if prox > 7 {
				prox = 7
			}
			if best < 0 || prox < best {
				best = prox
			}
		}
		if best > 0 {
			sum += best
		}
	}
	return sum
}

func closestDistance(a, b []uint32) int {
	best := -1
	for _, pa := range a {
		for _, pb := range b {
			d := int(pa) - int(pb)
			if d < 0 {
				d = -d
			}
			if best < 0 || d < best {
				best = d
			}
		}
	}
	return best
}

// projectFields trims doc down to fields. The caller supplies whatever
// retrievable field set applies (settings.DisplayedFields by default).
func projectFields(doc model.Document, fields []string) model.Document {
	if len(fields) == 0 {
		return doc
	}
	out := make(model.Document, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// highlight wraps every matched query word in preTag/postTag within each
// requested field's text.
func highlight(doc model.Document, fields []string, perTerm map[int]termMatch, preTag, postTag string) map[string]string {
	words := matchedWords(perTerm)

	out := make(map[string]string, len(fields))
	for _, field := range fields {
		text, ok := fieldText(doc, field)
		if !ok {
			continue
		}
		out[field] = highlightText(text, words, preTag, postTag)
	}
	return out
}

func highlightText(text string, words map[string]bool, preTag, postTag string) string {
	if len(words) == 0 {
		return text
	}
	tokens := strings.Fields(text)
	for i, tok := range tokens {
		stripped := strings.ToLower(strings.Trim(tok, ".,!?;:\"'()"))
		if words[stripped] {
			tokens[i] = fmt.Sprintf("%s%s%s", preTag, tok, postTag)
		}
	}
	return strings.Join(tokens, " ")
}

// crop returns, for each requested field, a windowed snippet of length
// words centered on the first matched query word found in it, bracketed by
// marker wherever the window cuts off leading or trailing text. It centers
// on the same matched-term source highlight uses, but the snippet itself
// carries no highlight markup.
func crop(doc model.Document, fields []string, perTerm map[int]termMatch, length int, marker string) map[string]string {
	words := matchedWords(perTerm)

	out := make(map[string]string, len(fields))
	for _, field := range fields {
		text, ok := fieldText(doc, field)
		if !ok {
			continue
		}
		out[field] = cropText(text, words, length, marker)
	}
	return out
}

func cropText(text string, words map[string]bool, length int, marker string) string {
	tokens := strings.Fields(text)
	if len(tokens) <= length {
		return text
	}

	center := 0
	for i, tok := range tokens {
		stripped := strings.ToLower(strings.Trim(tok, ".,!?;:\"'()"))
		if words[stripped] {
			center = i
			break
		}
	}

	half := length / 2
	start := center - half
	if start < 0 {
		start = 0
	}
	end := start + length
	if end > len(tokens) {
		end = len(tokens)
		start = end - length
		if start < 0 {
			start = 0
		}
	}

	window := strings.Join(tokens[start:end], " ")
	if start > 0 {
		window = marker + " " + window
	}
	if end < len(tokens) {
		window = window + " " + marker
	}
	return window
}

func matchedWords(perTerm map[int]termMatch) map[string]bool {
	words := make(map[string]bool, len(perTerm))
	for _, tm := range perTerm {
		for _, w := range strings.Fields(tm.word) {
			words[strings.ToLower(w)] = true
		}
	}
	return words
}

func fieldText(doc model.Document, field string) (string, bool) {
	val, ok := doc[field]
	if !ok {
		return "", false
	}
	text, ok := val.(string)
	return text, ok
}
