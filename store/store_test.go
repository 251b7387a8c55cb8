package store

import (
	"path/filepath"
	"testing"

	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestPutGetDeleteDocument(t *testing.T) {
	idx := openTestIndex(t)
	doc := model.Document{"title": "The Matrix", "year": float64(1999)}

	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		return PutDocument(tx, 1, "matrix-1999", doc)
	}))

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		got, ok, err := GetDocument(tx, 1)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "The Matrix", got["title"])

		resolved, ok, err := ResolveExternalID(tx, "matrix-1999")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint32(1), resolved)
		return nil
	}))

	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		return DeleteDocument(tx, 1, "matrix-1999")
	}))

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		_, ok, err := GetDocument(tx, 1)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestNextDocIDIncrements(t *testing.T) {
	idx := openTestIndex(t)
	var ids []uint32
	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		for i := 0; i < 3; i++ {
			id, err := NextDocID(tx)
			require.NoError(t, err)
			ids = append(ids, id)
		}
		return nil
	}))
	require.Equal(t, []uint32{0, 1, 2}, ids)
}

func TestPrimaryKeyRoundTrip(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		return SetPrimaryKey(tx, "sku")
	}))
	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		pk, ok := GetPrimaryKey(tx)
		require.True(t, ok)
		require.Equal(t, "sku", pk)
		return nil
	}))
}

func TestFieldIDAllocationIsStable(t *testing.T) {
	idx := openTestIndex(t)
	var first, second uint16
	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		var err error
		first, err = FieldID(tx, "title", 1000)
		require.NoError(t, err)
		second, err = FieldID(tx, "title", 1000)
		require.NoError(t, err)
		return nil
	}))
	require.Equal(t, first, second)

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		name, ok := FieldName(tx, first)
		require.True(t, ok)
		require.Equal(t, "title", name)
		return nil
	}))
}

func TestFieldIDRespectsLimit(t *testing.T) {
	idx := openTestIndex(t)
	err := idx.Update(func(tx *kv.WriteTx) error {
		_, err := FieldID(tx, "title", 1)
		require.NoError(t, err)
		_, err = FieldID(tx, "body", 1)
		return err
	})
	require.Error(t, err)
}

func TestWordDocIDsRoundTrip(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		require.NoError(t, AddWordDocID(tx, "matrix", 1))
		require.NoError(t, AddWordDocID(tx, "matrix", 2))
		return nil
	}))

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		bm, err := WordDocIDs(tx, "matrix")
		require.NoError(t, err)
		require.True(t, bm.Contains(1))
		require.True(t, bm.Contains(2))
		require.EqualValues(t, 2, bm.GetCardinality())
		return nil
	}))

	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		return RemoveWordDocID(tx, "matrix", 1)
	}))
	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		bm, err := WordDocIDs(tx, "matrix")
		require.NoError(t, err)
		require.False(t, bm.Contains(1))
		require.True(t, bm.Contains(2))
		return nil
	}))
}

func TestWordPairProximityDocIDs(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		return AddWordPairProximityDocID(tx, "the", "matrix", 1, 7)
	}))
	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		bm, err := WordPairProximityDocIDs(tx, "the", "matrix", 1)
		require.NoError(t, err)
		require.True(t, bm.Contains(7))

		other, err := WordPairProximityDocIDs(tx, "the", "matrix", 2)
		require.NoError(t, err)
		require.True(t, other.IsEmpty())
		return nil
	}))
}

func TestWordPositionsRoundTrip(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		return PutWordPositions(tx, "matrix", 3, []uint32{0, 4, 9})
	}))
	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		positions, err := WordPositions(tx, "matrix", 3)
		require.NoError(t, err)
		require.Equal(t, []uint32{0, 4, 9}, positions)
		return nil
	}))
}

func TestStringFacetValuesSortedAndScoped(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		require.NoError(t, AddStringFacetDocID(tx, 1, "action", 1))
		require.NoError(t, AddStringFacetDocID(tx, 1, "drama", 2))
		require.NoError(t, AddStringFacetDocID(tx, 2, "action", 3)) // different field, must not leak in
		return nil
	}))

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		values, err := StringFacetValues(tx, 1)
		require.NoError(t, err)
		require.Len(t, values, 2)
		require.Equal(t, "action", string(values[0].Value))
		require.Equal(t, "drama", string(values[1].Value))
		return nil
	}))
}

func TestNumericFacetValuesInRange(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		for _, year := range []int64{1990, 1999, 2005, 2020} {
			require.NoError(t, AddNumericFacetDocID(tx, 5, kv.EncodeInt64(year), uint32(year%100)))
		}
		return nil
	}))

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		values, err := NumericFacetValuesInRange(tx, 5, kv.EncodeInt64(1995), kv.EncodeInt64(2010))
		require.NoError(t, err)
		require.Len(t, values, 2)
		return nil
	}))
}

func TestSettingsRoundTripAndStopWords(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		require.NoError(t, PutStopWords(tx, []string{"the", "a"}))
		require.NoError(t, PutSynonyms(tx, map[string][]string{"car": {"automobile", "vehicle"}}))
		return nil
	}))

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		require.True(t, IsStopWord(tx, "the"))
		require.False(t, IsStopWord(tx, "matrix"))

		equivalents, err := SynonymsFor(tx, "car")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"automobile", "vehicle"}, equivalents)
		return nil
	}))

	require.NoError(t, idx.Update(func(tx *kv.WriteTx) error {
		return PutStopWords(tx, []string{"an"})
	}))
	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		require.False(t, IsStopWord(tx, "the"))
		require.True(t, IsStopWord(tx, "an"))
		return nil
	}))
}
