package store

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/model"
)

// mainKeys are the singleton entries held in the "main" bucket: the next
// document id counter plus per-index metadata.
const (
	mainKeyNextDocID     = "next_doc_id"
	mainKeyPrimaryKey    = "primary_key"
	mainKeyCreatedAt     = "created_at"
	mainKeyUpdatedAt     = "updated_at"
	mainKeyDocumentCount = "document_count"
)

// PutDocument stores doc under docID and records the external-id mapping,
// as two bbolt buckets instead of two map fields behind one mutex.
func PutDocument(tx *kv.WriteTx, docID uint32, externalID string, doc model.Document) error {
	docsBucket, err := tx.Bucket(bucketDocuments)
	if err != nil {
		return err
	}
	encoded, err := kv.EncodeJSON(doc)
	if err != nil {
		return err
	}
	if err := docsBucket.Put(kv.EncodeUint32(docID), encoded); err != nil {
		return err
	}

	extBucket, err := tx.Bucket(bucketExternalToInternal)
	if err != nil {
		return err
	}
	return extBucket.Put([]byte(externalID), kv.EncodeUint32(docID))
}

// GetDocument looks up a document by its internal id.
func GetDocument(tx *kv.Tx, docID uint32) (model.Document, bool, error) {
	b := tx.Bucket(bucketDocuments)
	raw := b.Get(kv.EncodeUint32(docID))
	if raw == nil {
		return nil, false, nil
	}
	var doc model.Document
	if err := kv.DecodeJSON(raw, &doc); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// ResolveExternalID maps a caller-supplied document id to its internal
// uint32 id.
func ResolveExternalID(tx *kv.Tx, externalID string) (uint32, bool, error) {
	b := tx.Bucket(bucketExternalToInternal)
	raw := b.Get([]byte(externalID))
	if raw == nil {
		return 0, false, nil
	}
	id, err := kv.DecodeUint32(raw)
	return id, true, err
}

// ResolveExternalIDTx is ResolveExternalID for use inside an in-flight
// write transaction (the indexer needs to know whether a document is an
// insertion or an update before it can clean up the update's old
// postings).
func ResolveExternalIDTx(tx *kv.WriteTx, externalID string) (uint32, bool, error) {
	b := tx.ReadBucket(bucketExternalToInternal)
	raw := b.Get([]byte(externalID))
	if raw == nil {
		return 0, false, nil
	}
	id, err := kv.DecodeUint32(raw)
	return id, true, err
}

// GetDocumentTx is GetDocument for use inside an in-flight write
// transaction.
func GetDocumentTx(tx *kv.WriteTx, docID uint32) (model.Document, bool, error) {
	b := tx.ReadBucket(bucketDocuments)
	raw := b.Get(kv.EncodeUint32(docID))
	if raw == nil {
		return nil, false, nil
	}
	var doc model.Document
	if err := kv.DecodeJSON(raw, &doc); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// DeleteDocument removes a document and its external-id mapping.
func DeleteDocument(tx *kv.WriteTx, docID uint32, externalID string) error {
	docsBucket, err := tx.Bucket(bucketDocuments)
	if err != nil {
		return err
	}
	if err := docsBucket.Delete(kv.EncodeUint32(docID)); err != nil {
		return err
	}
	extBucket, err := tx.Bucket(bucketExternalToInternal)
	if err != nil {
		return err
	}
	return extBucket.Delete([]byte(externalID))
}

// NextDocID allocates and persists the next internal document id counter.
func NextDocID(tx *kv.WriteTx) (uint32, error) {
	b, err := tx.Bucket(bucketMain)
	if err != nil {
		return 0, err
	}
	var next uint32
	if raw := b.Get([]byte(mainKeyNextDocID)); raw != nil {
		next, err = kv.DecodeUint32(raw)
		if err != nil {
			return 0, err
		}
	}
	if err := b.Put([]byte(mainKeyNextDocID), kv.EncodeUint32(next+1)); err != nil {
		return 0, err
	}
	return next, nil
}

// GetPrimaryKey returns the primary key field name recorded for this
// index, if one has been set (by explicit config or by inference from the
// first indexed batch).
func GetPrimaryKey(tx kv.Reader) (string, bool) {
	b := tx.ReadBucket(bucketMain)
	raw := b.Get([]byte(mainKeyPrimaryKey))
	if raw == nil {
		return "", false
	}
	return string(raw), true
}

// SetPrimaryKey records the primary key field name. Returns an error via
// the caller's own check if one is already set and differs; this
// function only writes; callers enforce the "set once" invariant.
func SetPrimaryKey(tx *kv.WriteTx, field string) error {
	b, err := tx.Bucket(bucketMain)
	if err != nil {
		return err
	}
	return b.Put([]byte(mainKeyPrimaryKey), []byte(field))
}

// IncrementDocumentCount adjusts the cached document count by delta
// (negative on deletes), used to answer count queries without a full scan.
func IncrementDocumentCount(tx *kv.WriteTx, delta int64) error {
	b, err := tx.Bucket(bucketMain)
	if err != nil {
		return err
	}
	var count int64
	if raw := b.Get([]byte(mainKeyDocumentCount)); raw != nil {
		count, err = kv.DecodeInt64(raw)
		if err != nil {
			return err
		}
	}
	return b.Put([]byte(mainKeyDocumentCount), kv.EncodeInt64(count+delta))
}

// DocumentCount returns the cached document count.
func DocumentCount(tx *kv.Tx) (int64, error) {
	b := tx.Bucket(bucketMain)
	raw := b.Get([]byte(mainKeyDocumentCount))
	if raw == nil {
		return 0, nil
	}
	return kv.DecodeInt64(raw)
}

// AllDocumentIDs returns the bitmap of every internal document id currently
// stored, the universe a filter tree's NOT node subtracts from.
func AllDocumentIDs(tx *kv.Tx) (*roaring.Bitmap, error) {
	b := tx.Bucket(bucketDocuments)
	bm := roaring.New()
	err := b.ForEach(func(k, v []byte) error {
		id, err := kv.DecodeUint32(k)
		if err != nil {
			return err
		}
		bm.Add(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bm, nil
}
