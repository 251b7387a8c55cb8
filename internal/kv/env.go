// Package kv wraps go.etcd.io/bbolt into an ordered byte-key map
// abstraction: many concurrent lock-free readers, one serialized writer,
// range/prefix iteration, and a handful of typed codecs
// (integers, roaring bitmaps, JSON) layered over raw []byte keys/values.
//
// bbolt's own transaction model already gives us exactly this: View opens a
// read-only, consistent-snapshot transaction that never blocks a writer,
// Update opens the single writable transaction bbolt allows at a time. We
// do not reimplement an ordered map; we lean on bbolt's B+tree.
package kv

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Env owns one bbolt database file. In this module, the task queue, the
// batch store, and each index get their own Env, one-directory-per-index,
// backed by bbolt instead of separate gob files per index.
type Env struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database at path.
func Open(path string) (*Env, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	return &Env{db: db}, nil
}

// Close releases the database file.
func (e *Env) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Bucket names a top-level named map within an Env.
type Bucket string

// CreateBucketsIfNotExist ensures each named bucket exists, in one write
// transaction.
func (e *Env) CreateBucketsIfNotExist(names ...Bucket) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("kv: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Tx is the common surface of ReadTx and WriteTx: range/prefix iteration
// and point lookups against a single bucket.
type Tx struct {
	tx *bolt.Tx
}

// Bucket returns a handle scoped to one named map, or nil if it doesn't
// exist yet (callers should check before first use, exactly like bbolt).
func (t *Tx) Bucket(name Bucket) *BucketHandle {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil
	}
	return &BucketHandle{b: b}
}

// ReadBucket returns a handle scoped to one named map without creating it.
// It exists so that read-only helpers can accept a Reader and run under
// either a View transaction or a write transaction's ReadBucket.
func (t *Tx) ReadBucket(name Bucket) *BucketHandle {
	return t.Bucket(name)
}

// Reader is the common read-only surface of Tx and WriteTx, letting a
// helper that only reads run under either transaction kind.
type Reader interface {
	ReadBucket(name Bucket) *BucketHandle
}

// View opens a read-only snapshot transaction. Readers never block the
// writer and vice versa.
func (e *Env) View(fn func(*Tx) error) error {
	return e.db.View(func(tx *bolt.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// WriteTx is the single serialized write transaction handle.
type WriteTx struct {
	tx *bolt.Tx
}

// Bucket returns a writable handle scoped to one named map, creating it if
// absent.
func (t *WriteTx) Bucket(name Bucket) (*BucketHandle, error) {
	b, err := t.tx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("kv: bucket %s: %w", name, err)
	}
	return &BucketHandle{b: b}, nil
}

// ReadBucket returns a handle scoped to one named map without creating it,
// for code that needs to read existing state (e.g. the document being
// replaced) from within the single write transaction rather than opening a
// separate, nested one; bbolt transactions cannot nest.
func (t *WriteTx) ReadBucket(name Bucket) *BucketHandle {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil
	}
	return &BucketHandle{b: b}
}

// Update opens the single writable transaction. Only one Update call runs
// at a time per Env: bbolt serializes writers, so concurrent callers (task
// registration as well as the scheduler loop on the task-queue Env; the
// indexer, the processor and the index registry on an index Env) wait for
// one another.
func (e *Env) Update(fn func(*WriteTx) error) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		return fn(&WriteTx{tx: tx})
	})
}

// BucketHandle is a named map within a transaction.
type BucketHandle struct {
	b *bolt.Bucket
}

func (h *BucketHandle) Get(key []byte) []byte {
	if h == nil {
		return nil
	}
	return h.b.Get(key)
}

func (h *BucketHandle) Put(key, value []byte) error {
	return h.b.Put(key, value)
}

func (h *BucketHandle) Delete(key []byte) error {
	return h.b.Delete(key)
}

// ForEach walks every key/value pair in key order.
func (h *BucketHandle) ForEach(fn func(key, value []byte) error) error {
	if h == nil {
		return nil
	}
	return h.b.ForEach(fn)
}

// ForEachPrefix walks every key/value pair whose key starts with prefix, in
// key order, stopping as soon as the prefix no longer matches.
func (h *BucketHandle) ForEachPrefix(prefix []byte, fn func(key, value []byte) error) error {
	if h == nil {
		return nil
	}
	c := h.b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// ForEachRange walks every key/value pair with start <= key < end (end may
// be nil for "through the end of the bucket"), in key order. This backs the
// task queue's enqueued-at/started-at/finished-at time-bound queries.
func (h *BucketHandle) ForEachRange(start, end []byte, fn func(key, value []byte) error) error {
	if h == nil {
		return nil
	}
	c := h.b.Cursor()
	for k, v := c.Seek(start); k != nil; k, v = c.Next() {
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	return bytes.HasPrefix(b, prefix)
}
