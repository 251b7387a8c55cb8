// Package batchstore persists Batch records, the batch<->task mapping, and
// kind/index secondary indexes, one level above internal/taskqueue the same
// way a Batch sits one level above the Tasks it groups: a counter-assigned
// id, one record per unit of work, and roaring-bitmap indexes keyed the
// same way the task queue keys its own.
package batchstore

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/model"
)

const (
	bucketBatches      kv.Bucket = "batches"
	bucketMain         kv.Bucket = "main"
	bucketBatchToTasks kv.Bucket = "batch_to_tasks"
	bucketByKind       kv.Bucket = "by_kind"
	bucketByIndexUID   kv.Bucket = "by_index_uid"
)

var allBuckets = []kv.Bucket{
	bucketBatches, bucketMain, bucketBatchToTasks, bucketByKind, bucketByIndexUID,
}

const mainKeyNextID = "next_batch_id"

// BatchesQuery describes the arguments to Store.Matching.
type BatchesQuery struct {
	Limit     int
	UIDs      []uint32
	Kinds     []model.TaskKind
	IndexUIDs []string
}

// Store is the durable batch record store.
type Store struct {
	env *kv.Env
}

// Open opens (creating if absent) the batch store's backing file.
func Open(path string) (*Store, error) {
	env, err := kv.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batchstore: open: %w", err)
	}
	if err := env.CreateBucketsIfNotExist(allBuckets...); err != nil {
		env.Close()
		return nil, fmt.Errorf("batchstore: initialize buckets: %w", err)
	}
	return &Store{env: env}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error { return s.env.Close() }

// Create assigns the next batch id and persists the record, the
// batch->tasks mapping, and the kind/index secondary indexes in one write
// transaction.
func (s *Store) Create(batch model.Batch) (model.Batch, error) {
	err := s.env.Update(func(tx *kv.WriteTx) error {
		main, err := tx.Bucket(bucketMain)
		if err != nil {
			return err
		}
		var nextID uint32
		if raw := main.Get([]byte(mainKeyNextID)); raw != nil {
			nextID, err = kv.DecodeUint32(raw)
			if err != nil {
				return err
			}
		}
		batch.UID = nextID
		if err := main.Put([]byte(mainKeyNextID), kv.EncodeUint32(nextID+1)); err != nil {
			return err
		}
		if err := s.put(tx, batch); err != nil {
			return err
		}

		mapping, err := tx.Bucket(bucketBatchToTasks)
		if err != nil {
			return err
		}
		tasksBM := roaring.New()
		tasksBM.AddMany(batch.TaskIDs)
		encoded, err := kv.EncodeBitmap(tasksBM)
		if err != nil {
			return err
		}
		if err := mapping.Put(kv.EncodeUint32(batch.UID), encoded); err != nil {
			return err
		}

		for _, kind := range dedupKinds(batch.Kinds) {
			if err := addToBitmapIndex(tx, bucketByKind, []byte(kind), batch.UID); err != nil {
				return err
			}
		}
		for _, uid := range batch.IndexUIDs {
			if err := addToBitmapIndex(tx, bucketByIndexUID, []byte(uid), batch.UID); err != nil {
				return err
			}
		}
		return nil
	})
	return batch, err
}

// Update overwrites the record for an existing batch (progress, finished
// timestamp, stop reason). The mapping and secondary indexes are fixed at
// Create since a batch's task set and kinds never change once formed.
func (s *Store) Update(batch model.Batch) error {
	return s.env.Update(func(tx *kv.WriteTx) error {
		return s.put(tx, batch)
	})
}

func (s *Store) put(tx *kv.WriteTx, batch model.Batch) error {
	b, err := tx.Bucket(bucketBatches)
	if err != nil {
		return err
	}
	encoded, err := kv.EncodeJSON(batch)
	if err != nil {
		return err
	}
	return b.Put(kv.EncodeUint32(batch.UID), encoded)
}

// Get fetches a batch by id.
func (s *Store) Get(uid uint32) (model.Batch, bool, error) {
	var batch model.Batch
	found := false
	err := s.env.View(func(tx *kv.Tx) error {
		b := tx.Bucket(bucketBatches)
		raw := b.Get(kv.EncodeUint32(uid))
		if raw == nil {
			return nil
		}
		found = true
		return kv.DecodeJSON(raw, &batch)
	})
	return batch, found, err
}

// TasksInBatch returns the task ids belonging to one batch, read off the
// batch->tasks mapping rather than the record itself.
func (s *Store) TasksInBatch(uid uint32) (*roaring.Bitmap, error) {
	var bm *roaring.Bitmap
	err := s.env.View(func(tx *kv.Tx) error {
		mapping := tx.Bucket(bucketBatchToTasks)
		var err error
		bm, err = kv.DecodeBitmap(mapping.Get(kv.EncodeUint32(uid)))
		return err
	})
	return bm, err
}

// Delete removes a batch record, its task mapping, and its secondary-index
// entries entirely, used when a batch aborts and its tasks return to
// Enqueued: the batch never reaches a terminal state worth keeping a record
// of, and a stale record would leave a batch UID with no task still
// pointing at it.
func (s *Store) Delete(uid uint32) error {
	return s.env.Update(func(tx *kv.WriteTx) error {
		b, err := tx.Bucket(bucketBatches)
		if err != nil {
			return err
		}
		raw := b.Get(kv.EncodeUint32(uid))
		if raw == nil {
			return nil
		}
		var batch model.Batch
		if err := kv.DecodeJSON(raw, &batch); err != nil {
			return err
		}
		if err := b.Delete(kv.EncodeUint32(uid)); err != nil {
			return err
		}
		mapping, err := tx.Bucket(bucketBatchToTasks)
		if err != nil {
			return err
		}
		if err := mapping.Delete(kv.EncodeUint32(uid)); err != nil {
			return err
		}
		for _, kind := range dedupKinds(batch.Kinds) {
			if err := removeFromBitmapIndex(tx, bucketByKind, []byte(kind), uid); err != nil {
				return err
			}
		}
		for _, indexUID := range batch.IndexUIDs {
			if err := removeFromBitmapIndex(tx, bucketByIndexUID, []byte(indexUID), uid); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns every batch in ascending uid order.
func (s *Store) List() ([]model.Batch, error) {
	var out []model.Batch
	err := s.env.View(func(tx *kv.Tx) error {
		b := tx.Bucket(bucketBatches)
		return b.ForEach(func(k, v []byte) error {
			var batch model.Batch
			if err := kv.DecodeJSON(v, &batch); err != nil {
				return err
			}
			out = append(out, batch)
			return nil
		})
	})
	return out, err
}

// Matching returns every batch satisfying query, intersecting the
// kind/index secondary-index bitmaps for each populated dimension the same
// way taskqueue.Queue.Matching does for tasks.
func (s *Store) Matching(query BatchesQuery) ([]model.Batch, error) {
	var result []model.Batch
	err := s.env.View(func(tx *kv.Tx) error {
		var candidate *roaring.Bitmap

		intersect := func(bucket kv.Bucket, keys [][]byte) error {
			b := tx.Bucket(bucket)
			union := roaring.New()
			for _, k := range keys {
				bm, err := kv.DecodeBitmap(b.Get(k))
				if err != nil {
					return err
				}
				union.Or(bm)
			}
			if candidate == nil {
				candidate = union
			} else {
				candidate.And(union)
			}
			return nil
		}

		if len(query.Kinds) > 0 {
			keys := make([][]byte, len(query.Kinds))
			for i, k := range query.Kinds {
				keys[i] = []byte(k)
			}
			if err := intersect(bucketByKind, keys); err != nil {
				return err
			}
		}
		if len(query.IndexUIDs) > 0 {
			keys := make([][]byte, len(query.IndexUIDs))
			for i, uid := range query.IndexUIDs {
				keys[i] = []byte(uid)
			}
			if err := intersect(bucketByIndexUID, keys); err != nil {
				return err
			}
		}
		if len(query.UIDs) > 0 {
			explicit := roaring.New()
			explicit.AddMany(query.UIDs)
			if candidate == nil {
				candidate = explicit
			} else {
				candidate.And(explicit)
			}
		}

		batches := tx.Bucket(bucketBatches)
		if candidate == nil {
			return batches.ForEach(func(_, v []byte) error {
				var batch model.Batch
				if err := kv.DecodeJSON(v, &batch); err != nil {
					return err
				}
				result = append(result, batch)
				return nil
			})
		}

		it := candidate.Iterator()
		for it.HasNext() {
			raw := batches.Get(kv.EncodeUint32(it.Next()))
			if raw == nil {
				continue
			}
			var batch model.Batch
			if err := kv.DecodeJSON(raw, &batch); err != nil {
				return err
			}
			result = append(result, batch)
		}
		return nil
	})
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, err
}

func dedupKinds(kinds []model.TaskKind) []model.TaskKind {
	seen := make(map[model.TaskKind]bool, len(kinds))
	out := kinds[:0:0]
	for _, k := range kinds {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func addToBitmapIndex(tx *kv.WriteTx, bucket kv.Bucket, key []byte, id uint32) error {
	b, err := tx.Bucket(bucket)
	if err != nil {
		return err
	}
	bm, err := kv.DecodeBitmap(b.Get(key))
	if err != nil {
		return err
	}
	bm.Add(id)
	encoded, err := kv.EncodeBitmap(bm)
	if err != nil {
		return err
	}
	return b.Put(key, encoded)
}

func removeFromBitmapIndex(tx *kv.WriteTx, bucket kv.Bucket, key []byte, id uint32) error {
	b, err := tx.Bucket(bucket)
	if err != nil {
		return err
	}
	bm, err := kv.DecodeBitmap(b.Get(key))
	if err != nil {
		return err
	}
	bm.Remove(id)
	if bm.IsEmpty() {
		return b.Delete(key)
	}
	encoded, err := kv.EncodeBitmap(bm)
	if err != nil {
		return err
	}
	return b.Put(key, encoded)
}
