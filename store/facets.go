package store

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gcbaptista/go-search-engine/internal/kv"
)

// DocFacetValues is the set of facet values recorded for one document on one
// field, keyed by fieldID+docID. A field is either string-valued or
// numeric-valued within one document's facet entry, but may carry several
// values when the source field held an array, so both slices are plural.
type DocFacetValues struct {
	Strings  []string `json:"s,omitempty"`
	Numerics []int64  `json:"n,omitempty"`
}

// Facet values are stored flat, sorted by (fieldID, encoded value) inside
// one bucket per value kind (string vs numeric) rather than as an explicit
// leveled interval tree: bbolt's cursor already does an ordered B+tree
// range scan in O(log n + k), which is what a leveled tree exists to give
// an LMDB-style flat keyspace. NumericFacetValuesInRange below is the thing a
// leveled tree would otherwise be for.

func facetKey(fieldID uint16, value []byte) []byte {
	return kv.CompositeKey(kv.EncodeUint32(uint32(fieldID)), value)
}

// facetFieldPrefix is the byte prefix every facetKey(fieldID, ...) starts
// with: CompositeKey's own 4-byte length header for a fixed-width 4-byte
// first part, followed by the fieldID's 4 encoded bytes. facetValueHeaderLen
// is the total header length before the value bytes begin (this prefix plus
// the second part's own 4-byte length header), the offset scanning readers
// must skip to recover the original value from a stored key.
func facetFieldPrefix(fieldID uint16) []byte {
	idBytes := kv.EncodeUint32(uint32(fieldID))
	return append(kv.EncodeUint32(uint32(len(idBytes))), idBytes...)
}

const facetValueHeaderLen = 12

// AddStringFacetDocID records that docID's fieldID facet has the given
// normalized string value.
func AddStringFacetDocID(tx *kv.WriteTx, fieldID uint16, value string, docID uint32) error {
	b, err := tx.Bucket(bucketFacetStringTree)
	if err != nil {
		return err
	}
	return mergeBitmap(b, facetKey(fieldID, []byte(value)), docID, false)
}

// RemoveStringFacetDocID undoes AddStringFacetDocID.
func RemoveStringFacetDocID(tx *kv.WriteTx, fieldID uint16, value string, docID uint32) error {
	b, err := tx.Bucket(bucketFacetStringTree)
	if err != nil {
		return err
	}
	return mergeBitmap(b, facetKey(fieldID, []byte(value)), docID, true)
}

// AddNumericFacetDocID records that docID's fieldID facet has the given
// numeric value, encoded so that byte order matches numeric order
// (internal/kv.EncodeInt64's sign-bit trick, applied to the value scaled
// to an integer domain by the caller).
func AddNumericFacetDocID(tx *kv.WriteTx, fieldID uint16, encodedValue []byte, docID uint32) error {
	b, err := tx.Bucket(bucketFacetNumericTree)
	if err != nil {
		return err
	}
	return mergeBitmap(b, facetKey(fieldID, encodedValue), docID, false)
}

// RemoveNumericFacetDocID undoes AddNumericFacetDocID.
func RemoveNumericFacetDocID(tx *kv.WriteTx, fieldID uint16, encodedValue []byte, docID uint32) error {
	b, err := tx.Bucket(bucketFacetNumericTree)
	if err != nil {
		return err
	}
	return mergeBitmap(b, facetKey(fieldID, encodedValue), docID, true)
}

// StringFacetDocIDs returns the bitmap of documents whose fieldID facet
// carries exactly value, the point lookup an equality/inequality filter
// condition needs.
func StringFacetDocIDs(tx *kv.Tx, fieldID uint16, value string) (*roaring.Bitmap, error) {
	return getBitmap(tx.Bucket(bucketFacetStringTree), facetKey(fieldID, []byte(value)))
}

// NumericFacetDocIDs returns the bitmap of documents whose fieldID facet
// carries exactly encodedValue.
func NumericFacetDocIDs(tx *kv.Tx, fieldID uint16, encodedValue []byte) (*roaring.Bitmap, error) {
	return getBitmap(tx.Bucket(bucketFacetNumericTree), facetKey(fieldID, encodedValue))
}

// FacetValue is one distinct value observed for a facet field, with the
// set of documents carrying it.
type FacetValue struct {
	Value []byte
	Docs  *roaring.Bitmap
}

// StringFacetValues walks every distinct string value recorded for
// fieldID, in sorted order, backing both facet distribution and
// alphabetical facet search ordering.
func StringFacetValues(tx *kv.Tx, fieldID uint16) ([]FacetValue, error) {
	return scanFacetBucket(tx.Bucket(bucketFacetStringTree), fieldID)
}

// NumericFacetValuesInRange walks distinct numeric values for fieldID
// whose encoded key falls within [start, end), in ascending order, the
// query a leveled facet tree exists to answer quickly; bbolt's Cursor.Seek
// gives the same bound without needing explicit levels.
func NumericFacetValuesInRange(tx *kv.Tx, fieldID uint16, start, end []byte) ([]FacetValue, error) {
	b := tx.Bucket(bucketFacetNumericTree)
	var out []FacetValue
	prefix := facetFieldPrefix(fieldID)
	startKey := prefix
	if start != nil {
		startKey = facetKey(fieldID, start)
	}
	// A leveled facet tree would stop at the requested upper bound by
	// construction; a flat keyspace needs an explicit end, or the scan
	// would run on into the next field's entries once it exhausts this
	// one's. When the caller gives no end, that bound is "one past this
	// field's own prefix", not "the rest of the bucket".
	endKey := nextPrefix(prefix)
	if end != nil {
		endKey = facetKey(fieldID, end)
	}
	err := b.ForEachRange(startKey, endKey, func(k, v []byte) error {
		bm, err := kv.DecodeBitmap(v)
		if err != nil {
			return err
		}
		out = append(out, FacetValue{Value: append([]byte(nil), k[facetValueHeaderLen:]...), Docs: bm})
		return nil
	})
	return out, err
}

// nextPrefix returns the lexicographically smallest byte string greater
// than every string with prefix p, used as an exclusive upper bound for a
// prefix-scoped range scan.
func nextPrefix(p []byte) []byte {
	out := append([]byte(nil), p...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil // p was all 0xFF bytes; no finite upper bound needed.
}

func scanFacetBucket(b *kv.BucketHandle, fieldID uint16) ([]FacetValue, error) {
	var out []FacetValue
	prefix := facetFieldPrefix(fieldID)
	err := b.ForEachPrefix(prefix, func(k, v []byte) error {
		bm, err := kv.DecodeBitmap(v)
		if err != nil {
			return err
		}
		out = append(out, FacetValue{Value: append([]byte(nil), k[facetValueHeaderLen:]...), Docs: bm})
		return nil
	})
	return out, err
}

func facetDocValueKey(fieldID uint16, docID uint32) []byte {
	return kv.CompositeKey(kv.EncodeUint32(uint32(fieldID)), kv.EncodeUint32(docID))
}

// PutDocFacetValues records every facet value attached to one document on
// one field, so a hit can be re-annotated with its own facet values without
// re-scanning the source document,
// and so a later re-index can remove exactly the bitmap entries it added.
func PutDocFacetValues(tx *kv.WriteTx, fieldID uint16, docID uint32, values DocFacetValues) error {
	b, err := tx.Bucket(bucketFacetIDDocIDValue)
	if err != nil {
		return err
	}
	encoded, err := kv.EncodeJSON(values)
	if err != nil {
		return err
	}
	return b.Put(facetDocValueKey(fieldID, docID), encoded)
}

// GetDocFacetValues looks up the facet values recorded for one document on
// one field.
func GetDocFacetValues(tx *kv.Tx, fieldID uint16, docID uint32) (DocFacetValues, bool, error) {
	b := tx.Bucket(bucketFacetIDDocIDValue)
	raw := b.Get(facetDocValueKey(fieldID, docID))
	if raw == nil {
		return DocFacetValues{}, false, nil
	}
	var values DocFacetValues
	if err := kv.DecodeJSON(raw, &values); err != nil {
		return DocFacetValues{}, false, err
	}
	return values, true, nil
}

// GetDocFacetValuesTx is GetDocFacetValues for use inside an in-flight write
// transaction.
func GetDocFacetValuesTx(tx *kv.WriteTx, fieldID uint16, docID uint32) (DocFacetValues, bool, error) {
	b := tx.ReadBucket(bucketFacetIDDocIDValue)
	raw := b.Get(facetDocValueKey(fieldID, docID))
	if raw == nil {
		return DocFacetValues{}, false, nil
	}
	var values DocFacetValues
	if err := kv.DecodeJSON(raw, &values); err != nil {
		return DocFacetValues{}, false, err
	}
	return values, true, nil
}

// DeleteDocFacetValues removes a document's recorded facet values for one
// field, used when re-indexing a document no longer sets that facet field.
func DeleteDocFacetValues(tx *kv.WriteTx, fieldID uint16, docID uint32) error {
	b, err := tx.Bucket(bucketFacetIDDocIDValue)
	if err != nil {
		return err
	}
	return b.Delete(facetDocValueKey(fieldID, docID))
}
