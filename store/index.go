// Package store implements the per-index collection of typed maps that make
// up an index store: documents, a fields-ids map, the word and word-prefix
// postings, proximity and position postings, facet trees, and a handful of
// per-index singletons (primary key, creation/update time). Each concern
// persists as a named bucket inside one internal/kv.Env per index, so reads
// and writes get bbolt's transaction isolation instead of a hand-rolled
// mutex.
package store

import (
	"fmt"

	"github.com/gcbaptista/go-search-engine/internal/kv"
)

const (
	bucketDocuments            kv.Bucket = "documents"
	bucketExternalToInternal   kv.Bucket = "external_ids"
	bucketFieldsIDs            kv.Bucket = "fields_ids"
	bucketWordDocids           kv.Bucket = "word_docids"
	bucketWordPrefixDocids     kv.Bucket = "word_prefix_docids"
	bucketWordPairProxDocids   kv.Bucket = "word_pair_proximity_docids"
	bucketWordPositionDocids   kv.Bucket = "word_position_docids"
	bucketFieldWordCountDocids kv.Bucket = "field_id_word_count_docids"
	bucketFacetStringTree      kv.Bucket = "facet_string_tree"
	bucketFacetNumericTree     kv.Bucket = "facet_numeric_tree"
	bucketFacetIDDocIDValue    kv.Bucket = "facet_id_docid_value"
	bucketDocFieldWords        kv.Bucket = "doc_field_words"
	bucketDocFacetFields       kv.Bucket = "doc_facet_fields"
	bucketSynonyms             kv.Bucket = "synonyms"
	bucketStopWords            kv.Bucket = "stop_words"
	bucketSettings             kv.Bucket = "settings"
	bucketMain                 kv.Bucket = "main"
)

var allBuckets = []kv.Bucket{
	bucketDocuments, bucketExternalToInternal, bucketFieldsIDs,
	bucketWordDocids, bucketWordPrefixDocids, bucketWordPairProxDocids,
	bucketWordPositionDocids, bucketFieldWordCountDocids,
	bucketFacetStringTree, bucketFacetNumericTree, bucketFacetIDDocIDValue,
	bucketDocFieldWords, bucketDocFacetFields,
	bucketSynonyms, bucketStopWords, bucketSettings, bucketMain,
}

// Index is the on-disk store for one search index.
type Index struct {
	env *kv.Env
}

// Open opens (creating if absent) the bbolt file backing one index and
// ensures every named map exists.
func Open(path string) (*Index, error) {
	env, err := kv.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}
	if err := env.CreateBucketsIfNotExist(allBuckets...); err != nil {
		env.Close()
		return nil, fmt.Errorf("store: initialize buckets: %w", err)
	}
	return &Index{env: env}, nil
}

// Close releases the underlying file.
func (idx *Index) Close() error {
	return idx.env.Close()
}

// View runs fn in a read-only transaction.
func (idx *Index) View(fn func(*kv.Tx) error) error {
	return idx.env.View(fn)
}

// Update runs fn in the single writable transaction.
func (idx *Index) Update(fn func(*kv.WriteTx) error) error {
	return idx.env.Update(fn)
}
