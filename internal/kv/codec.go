package kv

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// EncodeUint32 big-endian-encodes n so that byte-lexicographic key order
// equals numeric order, which lets bbolt's cursor-based range scans
// (ForEachRange) double as "tasks with id >= N" queries.
func EncodeUint32(n uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, n)
	return buf
}

// DecodeUint32 is the inverse of EncodeUint32.
func DecodeUint32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("kv: expected 4-byte uint32 key, got %d bytes", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// EncodeInt64 big-endian-encodes a timestamp (nanoseconds since epoch)
// shifted into the unsigned range so ordering is preserved; used for the
// enqueued-at/started-at/finished-at secondary indexes.
func EncodeInt64(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n)^(1<<63))
	return buf
}

// DecodeInt64 is the inverse of EncodeInt64.
func DecodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("kv: expected 8-byte int64 key, got %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)), nil
}

// EncodeBitmap serializes a roaring bitmap the way every secondary index in
// this module stores its value.
func EncodeBitmap(bm *roaring.Bitmap) ([]byte, error) {
	if bm == nil {
		bm = roaring.New()
	}
	return bm.ToBytes()
}

// DecodeBitmap deserializes bytes written by EncodeBitmap. A nil/empty
// input decodes to an empty bitmap rather than an error, so callers can
// treat "key absent" and "key present with an empty bitmap" the same way.
func DecodeBitmap(b []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(b) == 0 {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("kv: decode bitmap: %w", err)
	}
	return bm, nil
}

// EncodeJSON is the generic fallback codec for structured values (Task,
// Batch, IndexSettings) that don't warrant a bespoke binary layout.
func EncodeJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("kv: encode json: %w", err)
	}
	return b, nil
}

// DecodeJSON is the inverse of EncodeJSON.
func DecodeJSON(b []byte, v interface{}) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("kv: decode json: %w", err)
	}
	return nil
}

// CompositeKey joins key parts with a length-prefixed encoding so that no
// part's bytes can bleed into the next (e.g. a facet tree key of
// field-id + level + value must not let a value's bytes be mistaken for the
// next part). Each part is prefixed with its big-endian uint32 length.
func CompositeKey(parts ...[]byte) []byte {
	total := 0
	for _, p := range parts {
		total += 4 + len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, EncodeUint32(uint32(len(p)))...)
		out = append(out, p...)
	}
	return out
}
