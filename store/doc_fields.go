package store

import (
	"github.com/gcbaptista/go-search-engine/internal/kv"
)

// DocFieldWords remembers, for one document and one searchable field, every
// word that contributed postings (full-word positions, and the prefixes
// derived from them) at index time. A re-index has to know exactly what a
// document's *previous* version wrote before it can safely remove it:
// without this record, removeOldPostings would have to re-tokenize the old
// document body to find what to undo, and the old body is already gone by
// the time a replacement commit runs.
type DocFieldWords struct {
	Positions map[string][]uint32 `json:"p"`
	Prefixes  []string            `json:"px,omitempty"`
}

func docFieldWordsKey(docID uint32, field string) []byte {
	return kv.CompositeKey(kv.EncodeUint32(docID), []byte(field))
}

// PutDocFieldWords records the words and prefixes a document's field
// produced, for later symmetric removal.
func PutDocFieldWords(tx *kv.WriteTx, docID uint32, field string, words DocFieldWords) error {
	b, err := tx.Bucket(bucketDocFieldWords)
	if err != nil {
		return err
	}
	encoded, err := kv.EncodeJSON(words)
	if err != nil {
		return err
	}
	return b.Put(docFieldWordsKey(docID, field), encoded)
}

// GetDocFieldWordsTx looks up the words previously recorded for a
// document's field, for use inside an in-flight write transaction (a
// re-index needs the old record before it overwrites it with the new one).
func GetDocFieldWordsTx(tx *kv.WriteTx, docID uint32, field string) (DocFieldWords, bool, error) {
	b := tx.ReadBucket(bucketDocFieldWords)
	raw := b.Get(docFieldWordsKey(docID, field))
	if raw == nil {
		return DocFieldWords{}, false, nil
	}
	var words DocFieldWords
	if err := kv.DecodeJSON(raw, &words); err != nil {
		return DocFieldWords{}, false, err
	}
	return words, true, nil
}

// GetDocFieldWords is the read-transaction counterpart of
// GetDocFieldWordsTx, used by search to resolve which searchable field a
// matched word actually occurred in, and where.
func GetDocFieldWords(tx *kv.Tx, docID uint32, field string) (DocFieldWords, bool, error) {
	b := tx.Bucket(bucketDocFieldWords)
	raw := b.Get(docFieldWordsKey(docID, field))
	if raw == nil {
		return DocFieldWords{}, false, nil
	}
	var words DocFieldWords
	if err := kv.DecodeJSON(raw, &words); err != nil {
		return DocFieldWords{}, false, err
	}
	return words, true, nil
}

// DeleteDocFieldWords removes the recorded words for a document's field,
// used when a document is deleted outright.
func DeleteDocFieldWords(tx *kv.WriteTx, docID uint32, field string) error {
	b, err := tx.Bucket(bucketDocFieldWords)
	if err != nil {
		return err
	}
	return b.Delete(docFieldWordsKey(docID, field))
}

// PutDocFacetFields records which filterable fields carried a facet value
// for docID in the current commit, so a later re-index knows which
// (fieldID, docID) facet-value records to clean up even if the current
// settings no longer list that field as filterable.
func PutDocFacetFields(tx *kv.WriteTx, docID uint32, fields []string) error {
	b, err := tx.Bucket(bucketDocFacetFields)
	if err != nil {
		return err
	}
	encoded, err := kv.EncodeJSON(fields)
	if err != nil {
		return err
	}
	return b.Put(kv.EncodeUint32(docID), encoded)
}

// GetDocFacetFieldsTx returns the filterable field names previously
// recorded for docID.
func GetDocFacetFieldsTx(tx *kv.WriteTx, docID uint32) ([]string, error) {
	b := tx.ReadBucket(bucketDocFacetFields)
	raw := b.Get(kv.EncodeUint32(docID))
	if raw == nil {
		return nil, nil
	}
	var fields []string
	if err := kv.DecodeJSON(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// DeleteDocFacetFields removes the recorded facet-field list for docID.
func DeleteDocFacetFields(tx *kv.WriteTx, docID uint32) error {
	b, err := tx.Bucket(bucketDocFacetFields)
	if err != nil {
		return err
	}
	return b.Delete(kv.EncodeUint32(docID))
}

// DocFieldsTx lists every field name that has a recorded word record for
// docID, so removeOldPostings can iterate them without the caller needing
// to already know the document's previous searchable-field set (settings
// may have changed the searchable fields between index runs).
func DocFieldsTx(tx *kv.WriteTx, docID uint32) ([]string, error) {
	b := tx.ReadBucket(bucketDocFieldWords)
	// CompositeKey prefixes the docID part with its own 4-byte length (always
	// 4, since docID is a fixed-width uint32), so the byte prefix shared by
	// every field key for this document is those 4 length bytes followed by
	// the docID itself; the field name then starts 4 bytes further in, past
	// the second part's own length prefix.
	idPart := kv.EncodeUint32(docID)
	prefix := append(kv.EncodeUint32(uint32(len(idPart))), idPart...)
	var fields []string
	err := b.ForEachPrefix(prefix, func(k, v []byte) error {
		fields = append(fields, string(k[len(prefix)+4:]))
		return nil
	})
	return fields, err
}
