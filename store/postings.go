package store

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gcbaptista/go-search-engine/internal/kv"
)

// FieldID allocates (or returns the existing) numeric id for a field name.
// Numeric ids keep posting keys small and fixed-width instead of repeating
// field name strings in every composite key.
func FieldID(tx *kv.WriteTx, field string, limit int) (uint16, error) {
	b, err := tx.Bucket(bucketFieldsIDs)
	if err != nil {
		return 0, err
	}
	key := []byte("name:" + field)
	if raw := b.Get(key); raw != nil {
		return binary.BigEndian.Uint16(raw), nil
	}

	countRaw := b.Get([]byte("count"))
	var count uint16
	if countRaw != nil {
		count = binary.BigEndian.Uint16(countRaw)
	}
	if int(count) >= limit {
		return 0, fmt.Errorf("store: attribute limit of %d fields reached", limit)
	}

	id := count
	idBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(idBuf, id)
	if err := b.Put(key, idBuf); err != nil {
		return 0, err
	}
	if err := b.Put([]byte("rev:"+string(idBuf)), []byte(field)); err != nil {
		return 0, err
	}
	newCount := make([]byte, 2)
	binary.BigEndian.PutUint16(newCount, count+1)
	if err := b.Put([]byte("count"), newCount); err != nil {
		return 0, err
	}
	return id, nil
}

// LookupFieldID returns the id of an already-registered field, without
// allocating one.
func LookupFieldID(tx *kv.Tx, field string) (uint16, bool) {
	b := tx.Bucket(bucketFieldsIDs)
	raw := b.Get([]byte("name:" + field))
	if raw == nil {
		return 0, false
	}
	return binary.BigEndian.Uint16(raw), true
}

// LookupFieldIDTx is LookupFieldID for use inside an in-flight write
// transaction, needed when removing a document's old postings before its
// replacement postings are written in the same transaction.
func LookupFieldIDTx(tx *kv.WriteTx, field string) (uint16, bool) {
	b := tx.ReadBucket(bucketFieldsIDs)
	raw := b.Get([]byte("name:" + field))
	if raw == nil {
		return 0, false
	}
	return binary.BigEndian.Uint16(raw), true
}

// FieldName resolves a field id back to its name.
func FieldName(tx *kv.Tx, id uint16) (string, bool) {
	b := tx.Bucket(bucketFieldsIDs)
	idBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(idBuf, id)
	raw := b.Get([]byte("rev:" + string(idBuf)))
	if raw == nil {
		return "", false
	}
	return string(raw), true
}

func mergeBitmap(b *kv.BucketHandle, key []byte, docID uint32, remove bool) error {
	var bm *roaring.Bitmap
	if existing := b.Get(key); existing != nil {
		decoded, err := kv.DecodeBitmap(existing)
		if err != nil {
			return err
		}
		bm = decoded
	} else {
		bm = roaring.New()
	}
	if remove {
		bm.Remove(docID)
	} else {
		bm.Add(docID)
	}
	if bm.IsEmpty() {
		return b.Delete(key)
	}
	encoded, err := kv.EncodeBitmap(bm)
	if err != nil {
		return err
	}
	return b.Put(key, encoded)
}

func getBitmap(b *kv.BucketHandle, key []byte) (*roaring.Bitmap, error) {
	raw := b.Get(key)
	return kv.DecodeBitmap(raw)
}

// AddWordDocID records that word appears (as a full word) in docID.
func AddWordDocID(tx *kv.WriteTx, word string, docID uint32) error {
	b, err := tx.Bucket(bucketWordDocids)
	if err != nil {
		return err
	}
	return mergeBitmap(b, []byte(word), docID, false)
}

// RemoveWordDocID undoes AddWordDocID.
func RemoveWordDocID(tx *kv.WriteTx, word string, docID uint32) error {
	b, err := tx.Bucket(bucketWordDocids)
	if err != nil {
		return err
	}
	return mergeBitmap(b, []byte(word), docID, true)
}

// WordDocIDs returns the bitmap of documents containing word exactly.
func WordDocIDs(tx *kv.Tx, word string) (*roaring.Bitmap, error) {
	return getBitmap(tx.Bucket(bucketWordDocids), []byte(word))
}

// WalkWords visits every distinct word recorded in the word-docids map, in
// key order, until fn returns false. This is the term source a typo scan
// walks instead of materializing the whole vocabulary into a slice.
func WalkWords(tx *kv.Tx, fn func(word string) bool) {
	b := tx.Bucket(bucketWordDocids)
	if b == nil {
		return
	}
	_ = b.ForEach(func(k, v []byte) error {
		if !fn(string(k)) {
			return errStopWalk
		}
		return nil
	})
}

// errStopWalk is a sentinel used only to unwind BucketHandle.ForEach early;
// it never escapes WalkWords.
var errStopWalk = errStopWalkErr{}

type errStopWalkErr struct{}

func (errStopWalkErr) Error() string { return "store: walk stopped" }

// AddWordPrefixDocID records that some word starting with prefix appears
// in docID, backing prefix-search derivations.
func AddWordPrefixDocID(tx *kv.WriteTx, prefix string, docID uint32) error {
	b, err := tx.Bucket(bucketWordPrefixDocids)
	if err != nil {
		return err
	}
	return mergeBitmap(b, []byte(prefix), docID, false)
}

// RemoveWordPrefixDocID undoes AddWordPrefixDocID.
func RemoveWordPrefixDocID(tx *kv.WriteTx, prefix string, docID uint32) error {
	b, err := tx.Bucket(bucketWordPrefixDocids)
	if err != nil {
		return err
	}
	return mergeBitmap(b, []byte(prefix), docID, true)
}

// WordPrefixDocIDs returns the bitmap of documents containing any word
// with the given prefix.
func WordPrefixDocIDs(tx *kv.Tx, prefix string) (*roaring.Bitmap, error) {
	return getBitmap(tx.Bucket(bucketWordPrefixDocids), []byte(prefix))
}

func proximityKey(word1, word2 string, proximity uint8) []byte {
	return kv.CompositeKey([]byte(word1), []byte(word2), []byte{proximity})
}

// AddWordPairProximityDocID records that word1 and word2 co-occur at the
// given proximity in docID, feeding the Proximity ranking rule. The
// indexer records proximity as 1 + position delta, so adjacent words land
// on 2.
func AddWordPairProximityDocID(tx *kv.WriteTx, word1, word2 string, proximity uint8, docID uint32) error {
	b, err := tx.Bucket(bucketWordPairProxDocids)
	if err != nil {
		return err
	}
	return mergeBitmap(b, proximityKey(word1, word2, proximity), docID, false)
}

// WordPairProximityDocIDs returns documents where word1/word2 co-occur at
// exactly the given proximity.
func WordPairProximityDocIDs(tx *kv.Tx, word1, word2 string, proximity uint8) (*roaring.Bitmap, error) {
	return getBitmap(tx.Bucket(bucketWordPairProxDocids), proximityKey(word1, word2, proximity))
}

// RemoveWordPairProximityDocID undoes AddWordPairProximityDocID.
func RemoveWordPairProximityDocID(tx *kv.WriteTx, word1, word2 string, proximity uint8, docID uint32) error {
	b, err := tx.Bucket(bucketWordPairProxDocids)
	if err != nil {
		return err
	}
	return mergeBitmap(b, proximityKey(word1, word2, proximity), docID, true)
}

func positionKey(word string, docID uint32) []byte {
	return kv.CompositeKey([]byte(word), kv.EncodeUint32(docID))
}

// PutWordPositions records the token positions at which word occurs within
// docID, used during indexing to derive proximity postings and, at search
// time, to compute the Proximity rule's distance between query terms.
func PutWordPositions(tx *kv.WriteTx, word string, docID uint32, positions []uint32) error {
	b, err := tx.Bucket(bucketWordPositionDocids)
	if err != nil {
		return err
	}
	buf := make([]byte, 4*len(positions))
	for i, p := range positions {
		binary.BigEndian.PutUint32(buf[i*4:], p)
	}
	return b.Put(positionKey(word, docID), buf)
}

// WordPositions returns the token positions word occupies within docID.
func WordPositions(tx *kv.Tx, word string, docID uint32) ([]uint32, error) {
	b := tx.Bucket(bucketWordPositionDocids)
	raw := b.Get(positionKey(word, docID))
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("store: corrupted position entry for %q/%d", word, docID)
	}
	positions := make([]uint32, len(raw)/4)
	for i := range positions {
		positions[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	return positions, nil
}

// DeleteWordPositions removes the position entry for word/docID, used when
// a document update no longer contains a word it previously did.
func DeleteWordPositions(tx *kv.WriteTx, word string, docID uint32) error {
	b, err := tx.Bucket(bucketWordPositionDocids)
	if err != nil {
		return err
	}
	return b.Delete(positionKey(word, docID))
}

func fieldWordCountKey(fieldID uint16, wordCount uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf, fieldID)
	binary.BigEndian.PutUint16(buf[2:], wordCount)
	return buf
}

// AddFieldWordCountDocID records that docID's fieldID field contains
// exactly wordCount searchable words, the input the Exactness rule uses to
// tell "the whole field matched" from "part of a long field matched".
func AddFieldWordCountDocID(tx *kv.WriteTx, fieldID uint16, wordCount uint16, docID uint32) error {
	b, err := tx.Bucket(bucketFieldWordCountDocids)
	if err != nil {
		return err
	}
	return mergeBitmap(b, fieldWordCountKey(fieldID, wordCount), docID, false)
}

// FieldWordCountDocIDs returns documents whose fieldID field has exactly
// wordCount words.
func FieldWordCountDocIDs(tx *kv.Tx, fieldID uint16, wordCount uint16) (*roaring.Bitmap, error) {
	return getBitmap(tx.Bucket(bucketFieldWordCountDocids), fieldWordCountKey(fieldID, wordCount))
}

// RemoveFieldWordCountDocID undoes AddFieldWordCountDocID.
func RemoveFieldWordCountDocID(tx *kv.WriteTx, fieldID uint16, wordCount uint16, docID uint32) error {
	b, err := tx.Bucket(bucketFieldWordCountDocids)
	if err != nil {
		return err
	}
	return mergeBitmap(b, fieldWordCountKey(fieldID, wordCount), docID, true)
}
