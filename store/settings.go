package store

import (
	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/kv"
)

const settingsKey = "current"

// PutSettings persists the index's current IndexSettings.
func PutSettings(tx *kv.WriteTx, settings config.IndexSettings) error {
	b, err := tx.Bucket(bucketSettings)
	if err != nil {
		return err
	}
	encoded, err := kv.EncodeJSON(settings)
	if err != nil {
		return err
	}
	return b.Put([]byte(settingsKey), encoded)
}

// GetSettings reads the index's current IndexSettings.
func GetSettings(tx kv.Reader) (config.IndexSettings, bool, error) {
	b := tx.ReadBucket(bucketSettings)
	raw := b.Get([]byte(settingsKey))
	if raw == nil {
		return config.IndexSettings{}, false, nil
	}
	var settings config.IndexSettings
	if err := kv.DecodeJSON(raw, &settings); err != nil {
		return config.IndexSettings{}, false, err
	}
	return settings, true, nil
}

// PutSynonyms persists the normalized synonym map (word -> equivalents).
func PutSynonyms(tx *kv.WriteTx, synonyms map[string][]string) error {
	b, err := tx.Bucket(bucketSynonyms)
	if err != nil {
		return err
	}
	for word, equivalents := range synonyms {
		encoded, err := kv.EncodeJSON(equivalents)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(word), encoded); err != nil {
			return err
		}
	}
	return nil
}

// SynonymsFor returns the configured equivalents for word, if any.
func SynonymsFor(tx *kv.Tx, word string) ([]string, error) {
	b := tx.Bucket(bucketSynonyms)
	raw := b.Get([]byte(word))
	if raw == nil {
		return nil, nil
	}
	var equivalents []string
	if err := kv.DecodeJSON(raw, &equivalents); err != nil {
		return nil, err
	}
	return equivalents, nil
}

// PutStopWords replaces the stop-word set.
func PutStopWords(tx *kv.WriteTx, words []string) error {
	b, err := tx.Bucket(bucketStopWords)
	if err != nil {
		return err
	}
	// Clear the existing set first so a shrinking stop-word list doesn't
	// leave stale entries behind.
	var stale [][]byte
	if err := b.ForEach(func(k, v []byte) error {
		stale = append(stale, append([]byte(nil), k...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	for _, w := range words {
		if err := b.Put([]byte(w), []byte{1}); err != nil {
			return err
		}
	}
	return nil
}

// IsStopWord reports whether word is configured as a stop word.
func IsStopWord(tx *kv.Tx, word string) bool {
	b := tx.Bucket(bucketStopWords)
	return b.Get([]byte(word)) != nil
}
