// Package indexer materializes a batch of document changes into one
// index's bbolt-backed store: it resolves (or infers) the primary key,
// tokenizes every searchable field, maintains the word/prefix/proximity/
// position/word-count postings and facet trees, and cleans up the old
// postings of a document being replaced. A worker pool runs the CPU-bound
// tokenization fan-out ahead of the single commit transaction; the commit
// itself still runs under bbolt's single writer.
package indexer

import (
	"sort"
	"strings"
	"sync"

	"github.com/gcbaptista/go-search-engine/config"
	domainErrors "github.com/gcbaptista/go-search-engine/internal/errors"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/internal/tokenizer"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/gcbaptista/go-search-engine/store"
)

// microBatchSize bounds how many documents are materialized in a single
// bbolt write transaction.
const microBatchSize = 200

// maxProximity is the proximity value (1 + word-index distance) the
// Proximity ranking rule caps at; pairs whose distance would push the
// proximity past this aren't recorded at all, since they'd all tie in the
// rule's lowest (most distant) bucket anyway.
const maxProximity = 7

// fieldGap is added to the running position counter between fields so two
// words in different fields never read as adjacent, without needing a
// separate per-field position space.
const fieldGap = 100

// primaryKeyCandidates is tried, in order, when no primary key has been
// configured or previously inferred.
var primaryKeyCandidates = []string{"id", "documentID", "uid", "_id"}

// DefaultAttributeLimit bounds the field-ids map's id space (a uint16, so
// this could go much higher; kept modest since no real index needs
// thousands of distinct top-level fields).
const DefaultAttributeLimit = 2000

// Report summarizes one AddDocuments call for the task's Details.
type Report struct {
	PrimaryKey     string
	IndexedCount   int
	FailedRecords  []*domainErrors.PartialDocumentError
}

// AddDocuments upserts docs into idx under settings, running extraction
// with workerCount goroutines and committing in micro-batches so mustStop
// is checked between each one.
// A document missing its primary key, or whose primary key isn't a scalar,
// is recorded in Report.FailedRecords and skipped rather than failing the
// whole task.
func AddDocuments(idx *store.Index, settings *config.IndexSettings, docs []model.Document, workerCount int, mustStop func() bool) (Report, error) {
	report := Report{}
	if len(docs) == 0 {
		return report, nil
	}
	if workerCount < 1 {
		workerCount = 1
	}

	primaryKey, err := resolvePrimaryKey(idx, settings, docs)
	if err != nil {
		return report, err
	}
	report.PrimaryKey = primaryKey

	for start := 0; start < len(docs); start += microBatchSize {
		if mustStop != nil && mustStop() {
			break
		}
		end := start + microBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		chunk := docs[start:end]

		extracted := extractChunk(chunk, primaryKey, settings, workerCount)

		var ok []*extractedDoc
		for i, e := range extracted {
			if e.err != nil {
				report.FailedRecords = append(report.FailedRecords, &domainErrors.PartialDocumentError{
					RecordIndex: start + i,
					Reason:      e.err.Error(),
				})
				continue
			}
			ok = append(ok, e)
		}
		if len(ok) == 0 {
			continue
		}

		if err := idx.Update(func(tx *kv.WriteTx) error {
			for _, e := range ok {
				if err := commitDocument(tx, settings, e); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return report, err
		}
		report.IndexedCount += len(ok)
	}

	return report, nil
}

// RemoveDocuments deletes every document in externalIDs from idx, undoing
// its postings and facet entries the same way a replacing update would,
// then removing its document row and external-id mapping. Unknown external
// ids are skipped rather than treated as an error: deleting an
// already-absent id is a no-op.
func RemoveDocuments(idx *store.Index, externalIDs []string, mustStop func() bool) (int, error) {
	removed := 0
	for start := 0; start < len(externalIDs); start += microBatchSize {
		if mustStop != nil && mustStop() {
			break
		}
		end := start + microBatchSize
		if end > len(externalIDs) {
			end = len(externalIDs)
		}
		chunk := externalIDs[start:end]

		if err := idx.Update(func(tx *kv.WriteTx) error {
			for _, externalID := range chunk {
				docID, ok, err := store.ResolveExternalIDTx(tx, externalID)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := removeOldPostings(tx, nil, docID); err != nil {
					return err
				}
				if err := store.DeleteDocument(tx, docID, externalID); err != nil {
					return err
				}
				if err := store.IncrementDocumentCount(tx, -1); err != nil {
					return err
				}
				removed++
			}
			return nil
		}); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// resolvePrimaryKey returns the index's primary key field, inferring and
// persisting one from the first batch if none is set yet.
func resolvePrimaryKey(idx *store.Index, settings *config.IndexSettings, docs []model.Document) (string, error) {
	if settings.PrimaryKeyField != "" {
		return settings.PrimaryKeyField, ensurePrimaryKeyPersisted(idx, settings.PrimaryKeyField)
	}

	var existing string
	var hasExisting bool
	if err := idx.View(func(tx *kv.Tx) error {
		existing, hasExisting = store.GetPrimaryKey(tx)
		return nil
	}); err != nil {
		return "", err
	}
	if hasExisting {
		return existing, nil
	}

	candidates := append([]string{}, primaryKeyCandidates...)
	asModel := make([]model.Document, len(docs))
	copy(asModel, docs)
	inferred, ok := model.InferPrimaryKey(asModel, candidates)
	if !ok {
		return "", domainErrors.ErrMissingDocumentID
	}
	return inferred, ensurePrimaryKeyPersisted(idx, inferred)
}

func ensurePrimaryKeyPersisted(idx *store.Index, field string) error {
	return idx.Update(func(tx *kv.WriteTx) error {
		if existing, ok := store.GetPrimaryKey(tx); ok {
			if existing != field {
				return domainErrors.ErrPrimaryKeyAlreadySet
			}
			return nil
		}
		return store.SetPrimaryKey(tx, field)
	})
}

// extractedDoc is the CPU-only result of tokenizing one document, produced
// by a worker goroutine and free of any bbolt access so extraction can run
// concurrently ahead of the single commit transaction.
type extractedDoc struct {
	externalID string
	doc        model.Document
	// perField maps a searchable field name to the words found in it, each
	// with the positions (in the document-wide running counter) it occurs
	// at.
	perField map[string]map[string][]uint32
	// prefixes maps field name to every prefix n-gram derived from that
	// field's words, excluding the full words themselves.
	prefixes map[string]map[string]bool
	// facetValues maps a filterable field name to its normalized value(s).
	facetValues map[string][]facetValue
	err         error
}

type facetValue struct {
	isNumeric bool
	str       string
	num       int64
}

func extractChunk(docs []model.Document, primaryKey string, settings *config.IndexSettings, workerCount int) []*extractedDoc {
	results := make([]*extractedDoc, len(docs))
	sem := make(chan struct{}, workerCount)
	var wg sync.WaitGroup

	for i, doc := range docs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, doc model.Document) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = extractOne(doc, primaryKey, settings)
		}(i, doc)
	}
	wg.Wait()
	return results
}

func extractOne(doc model.Document, primaryKey string, settings *config.IndexSettings) *extractedDoc {
	externalID, ok := doc.PrimaryKeyValue(primaryKey)
	if !ok {
		return &extractedDoc{err: domainErrors.ErrMissingDocumentID}
	}

	e := &extractedDoc{
		externalID:  externalID,
		doc:         doc,
		perField:    make(map[string]map[string][]uint32),
		prefixes:    make(map[string]map[string]bool),
		facetValues: make(map[string][]facetValue),
	}

	prefixEnabled := settings.PrefixSearch != config.PrefixDisabled
	withoutPrefix := toSet(settings.FieldsWithoutPrefixSearch)

	var position uint32
	for _, field := range settings.SearchableFields {
		val, exists := doc[field]
		if !exists {
			continue
		}
		text := extractTextContent(val)
		if strings.TrimSpace(text) == "" {
			continue
		}

		words := tokenizer.Tokenize(text)
		if len(words) == 0 {
			continue
		}

		wordPositions := make(map[string][]uint32, len(words))
		prefixSet := make(map[string]bool)
		for _, w := range words {
			wordPositions[w] = append(wordPositions[w], position)
			if prefixEnabled && !withoutPrefix[field] {
				for _, ngram := range tokenizer.GeneratePrefixNGrams(w) {
					if ngram != w {
						prefixSet[ngram] = true
					}
				}
			}
			position++
		}
		position += fieldGap

		e.perField[field] = wordPositions
		if len(prefixSet) > 0 {
			e.prefixes[field] = prefixSet
		}
	}

	for _, field := range settings.FilterableFields {
		val, exists := doc[field]
		if !exists {
			continue
		}
		e.facetValues[field] = extractFacetValues(val)
	}

	return e
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}

// extractTextContent flattens a field's value into searchable text:
// a plain string, a []interface{} of strings, or a []string.
func extractTextContent(fieldVal interface{}) string {
	switch v := fieldVal.(type) {
	case string:
		return v
	case []interface{}:
		var parts []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(v, " ")
	default:
		return ""
	}
}

func extractFacetValues(val interface{}) []facetValue {
	switch v := val.(type) {
	case string:
		return []facetValue{{str: strings.ToLower(strings.TrimSpace(v))}}
	case float64:
		return []facetValue{{isNumeric: true, num: int64(v)}}
	case bool:
		if v {
			return []facetValue{{str: "true"}}
		}
		return []facetValue{{str: "false"}}
	case []interface{}:
		var out []facetValue
		for _, item := range v {
			out = append(out, extractFacetValues(item)...)
		}
		return out
	case []string:
		out := make([]facetValue, 0, len(v))
		for _, s := range v {
			out = append(out, facetValue{str: strings.ToLower(strings.TrimSpace(s))})
		}
		return out
	default:
		return nil
	}
}

// commitDocument applies one extracted document's changes inside the
// single write transaction of its micro-batch: resolving the internal
// docID (reusing it and cleaning up its old postings on update), storing
// the new document, and writing every posting/facet entry.
func commitDocument(tx *kv.WriteTx, settings *config.IndexSettings, e *extractedDoc) error {
	docID, isUpdate, err := resolveDocID(tx, e.externalID)
	if err != nil {
		return err
	}
	if isUpdate {
		if err := removeOldPostings(tx, settings, docID); err != nil {
			return err
		}
	}

	if err := store.PutDocument(tx, docID, e.externalID, e.doc); err != nil {
		return err
	}
	if !isUpdate {
		if err := store.IncrementDocumentCount(tx, 1); err != nil {
			return err
		}
	}

	fieldIDs := make(map[string]uint16, len(e.perField)+len(e.facetValues))
	resolveFieldID := func(field string) (uint16, error) {
		if id, ok := fieldIDs[field]; ok {
			return id, nil
		}
		id, err := store.FieldID(tx, field, DefaultAttributeLimit)
		if err != nil {
			return 0, domainErrors.NewAttributeLimitReachedError(DefaultAttributeLimit)
		}
		fieldIDs[field] = id
		return id, nil
	}

	var facetFieldNames []string
	for field, words := range e.perField {
		fieldID, err := resolveFieldID(field)
		if err != nil {
			return err
		}

		wordCount := len(words)
		if wordCount > 0xFFFF {
			wordCount = 0xFFFF
		}
		if err := store.AddFieldWordCountDocID(tx, fieldID, uint16(wordCount), docID); err != nil {
			return err
		}

		for word, positions := range words {
			if err := store.AddWordDocID(tx, word, docID); err != nil {
				return err
			}
			if err := store.PutWordPositions(tx, word, docID, positions); err != nil {
				return err
			}
		}

		if err := walkProximityPairs(words, store.AddWordPairProximityDocID, tx, docID); err != nil {
			return err
		}

		prefixes := make([]string, 0, len(e.prefixes[field]))
		for prefix := range e.prefixes[field] {
			if err := store.AddWordPrefixDocID(tx, prefix, docID); err != nil {
				return err
			}
			prefixes = append(prefixes, prefix)
		}

		if err := store.PutDocFieldWords(tx, docID, field, store.DocFieldWords{Positions: words, Prefixes: prefixes}); err != nil {
			return err
		}
	}

	for field, values := range e.facetValues {
		if len(values) == 0 {
			continue
		}
		fieldID, err := resolveFieldID(field)
		if err != nil {
			return err
		}
		docValues := store.DocFacetValues{}
		for _, v := range values {
			if v.isNumeric {
				encoded := kv.EncodeInt64(v.num)
				if err := store.AddNumericFacetDocID(tx, fieldID, encoded, docID); err != nil {
					return err
				}
				docValues.Numerics = append(docValues.Numerics, v.num)
			} else {
				if err := store.AddStringFacetDocID(tx, fieldID, v.str, docID); err != nil {
					return err
				}
				docValues.Strings = append(docValues.Strings, v.str)
			}
		}
		if err := store.PutDocFacetValues(tx, fieldID, docID, docValues); err != nil {
			return err
		}
		facetFieldNames = append(facetFieldNames, field)
	}
	if err := store.PutDocFacetFields(tx, docID, facetFieldNames); err != nil {
		return err
	}

	return nil
}

// proximityOp applies (or undoes) one word-pair-proximity posting; passed to
// walkProximityPairs so the same pair-derivation logic serves both
// commitDocument (store.AddWordPairProximityDocID) and removeOldPostings
// (store.RemoveWordPairProximityDocID).
type proximityOp func(tx *kv.WriteTx, word1, word2 string, proximity uint8, docID uint32) error

// walkProximityPairs derives every pair of distinct words whose closest
// occurrence is within maxProximity positions of each other and applies op
// to each, feeding (or unwinding) the Proximity ranking rule's postings.
func walkProximityPairs(words map[string][]uint32, op proximityOp, tx *kv.WriteTx, docID uint32) error {
	type occurrence struct {
		word string
		pos  uint32
	}
	var all []occurrence
	for w, positions := range words {
		for _, p := range positions {
			all = append(all, occurrence{w, p})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].pos < all[j].pos })

	seen := make(map[string]bool)
	for i := range all {
		for j := i + 1; j < len(all) && all[j].pos-all[i].pos <= maxProximity-1; j++ {
			if all[i].word == all[j].word {
				continue
			}
			w1, w2 := all[i].word, all[j].word
			if w1 > w2 {
				w1, w2 = w2, w1
			}
			dist := uint8(1 + (all[j].pos - all[i].pos))
			key := w1 + "\x00" + w2 + "\x00" + string(rune(dist))
			if seen[key] {
				continue
			}
			seen[key] = true
			if err := op(tx, w1, w2, dist, docID); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveDocID returns the internal id for externalID, allocating a new one
// via store.NextDocID if this is the first time it's seen, or the existing
// one (reported as an update) if a document with this external id already
// exists.
func resolveDocID(tx *kv.WriteTx, externalID string) (uint32, bool, error) {
	existing, ok, err := store.ResolveExternalIDTx(tx, externalID)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return existing, true, nil
	}
	id, err := store.NextDocID(tx)
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

// removeOldPostings undoes every posting and facet entry the previous
// version of docID wrote, using the per-field word/prefix records
// commitDocument kept alongside them, so a re-indexed document never leaves
// stale entries behind for words or facet values it no longer has.
func removeOldPostings(tx *kv.WriteTx, settings *config.IndexSettings, docID uint32) error {
	fields, err := store.DocFieldsTx(tx, docID)
	if err != nil {
		return err
	}
	for _, field := range fields {
		old, ok, err := store.GetDocFieldWordsTx(tx, docID, field)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fieldID, hasID := store.LookupFieldIDTx(tx, field)

		wordCount := len(old.Positions)
		if wordCount > 0xFFFF {
			wordCount = 0xFFFF
		}
		if hasID {
			if err := store.RemoveFieldWordCountDocID(tx, fieldID, uint16(wordCount), docID); err != nil {
				return err
			}
		}

		for word := range old.Positions {
			if err := store.RemoveWordDocID(tx, word, docID); err != nil {
				return err
			}
			if err := store.DeleteWordPositions(tx, word, docID); err != nil {
				return err
			}
		}
		if err := walkProximityPairs(old.Positions, store.RemoveWordPairProximityDocID, tx, docID); err != nil {
			return err
		}
		for _, prefix := range old.Prefixes {
			if err := store.RemoveWordPrefixDocID(tx, prefix, docID); err != nil {
				return err
			}
		}
		if err := store.DeleteDocFieldWords(tx, docID, field); err != nil {
			return err
		}
	}

	facetFields, err := store.GetDocFacetFieldsTx(tx, docID)
	if err != nil {
		return err
	}
	for _, field := range facetFields {
		fieldID, hasID := store.LookupFieldIDTx(tx, field)
		if !hasID {
			continue
		}
		values, ok, err := store.GetDocFacetValuesTx(tx, fieldID, docID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for _, s := range values.Strings {
			if err := store.RemoveStringFacetDocID(tx, fieldID, s, docID); err != nil {
				return err
			}
		}
		for _, n := range values.Numerics {
			if err := store.RemoveNumericFacetDocID(tx, fieldID, kv.EncodeInt64(n), docID); err != nil {
				return err
			}
		}
		if err := store.DeleteDocFacetValues(tx, fieldID, docID); err != nil {
			return err
		}
	}
	if err := store.DeleteDocFacetFields(tx, docID); err != nil {
		return err
	}

	return nil
}
