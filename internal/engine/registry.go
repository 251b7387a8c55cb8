// Package engine owns the top-level wiring for one running instance: the
// index registry, the durable task queue, the batch store, the scheduler,
// and the processor that applies batches against the registry. The registry
// itself is a mutex-guarded map of bbolt-backed store.Index handles opened
// on demand, scanned off disk at startup.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gcbaptista/go-search-engine/config"
	domainErrors "github.com/gcbaptista/go-search-engine/internal/errors"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/store"
)

// Registry is a mutex-guarded map of open index stores, keyed by index
// uid. It is the processor's only way to reach index data.
type Registry struct {
	dataDir string
	log     zerolog.Logger

	mu      sync.RWMutex
	indexes map[string]*store.Index
}

func indexesDir(dataDir string) string {
	return filepath.Join(dataDir, "indexes")
}

func indexPath(dataDir, uid string) string {
	return filepath.Join(indexesDir(dataDir), uid, "index.db")
}

// NewRegistry opens every index already on disk under
// <dataDir>/indexes/<uid>/index.db.
func NewRegistry(dataDir string, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		dataDir: dataDir,
		log:     log.With().Str("component", "registry").Logger(),
		indexes: make(map[string]*store.Index),
	}

	entries, err := os.ReadDir(indexesDir(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("engine: scan index directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		uid := entry.Name()
		idx, err := store.Open(indexPath(dataDir, uid))
		if err != nil {
			return nil, fmt.Errorf("engine: open index %q: %w", uid, err)
		}
		r.indexes[uid] = idx
		r.log.Info().Str("index", uid).Msg("loaded index from disk")
	}
	return r, nil
}

// Close closes every open index handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for uid, idx := range r.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close index %q: %w", uid, err)
		}
	}
	return firstErr
}

// Open implements processor.Registry.
func (r *Registry) Open(uid string) (*store.Index, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.indexes[uid]
	return idx, ok
}

// Exists reports whether uid names a currently registered index, used by
// API handlers to distinguish "index not found" from "task accepted" up
// front.
func (r *Registry) Exists(uid string) bool {
	_, ok := r.Open(uid)
	return ok
}

// UIDs returns every currently registered index uid.
func (r *Registry) UIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uids := make([]string, 0, len(r.indexes))
	for uid := range r.indexes {
		uids = append(uids, uid)
	}
	return uids
}

// Settings returns the current settings for uid, or false if uid isn't
// registered.
func (r *Registry) Settings(uid string) (config.IndexSettings, bool, error) {
	idx, ok := r.Open(uid)
	if !ok {
		return config.IndexSettings{}, false, nil
	}
	var settings config.IndexSettings
	var found bool
	err := idx.View(func(tx *kv.Tx) error {
		s, ok, err := store.GetSettings(tx)
		if err != nil {
			return err
		}
		settings, found = s, ok
		return nil
	})
	return settings, found, err
}

// Create implements processor.Registry: it opens a fresh on-disk store for
// uid and persists settings as its initial state.
func (r *Registry) Create(uid string, settings config.IndexSettings) (*store.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.indexes[uid]; exists {
		return nil, domainErrors.NewIndexAlreadyExistsError(uid)
	}

	idx, err := store.Open(indexPath(r.dataDir, uid))
	if err != nil {
		return nil, err
	}
	if err := idx.Update(func(tx *kv.WriteTx) error {
		return store.PutSettings(tx, settings)
	}); err != nil {
		idx.Close()
		return nil, err
	}
	r.indexes[uid] = idx
	r.log.Info().Str("index", uid).Msg("created index")
	return idx, nil
}

// Delete implements processor.Registry: it closes and removes uid's
// on-disk store.
func (r *Registry) Delete(uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indexes[uid]
	if !ok {
		return domainErrors.NewIndexNotFoundError(uid)
	}
	if err := idx.Close(); err != nil {
		return err
	}
	delete(r.indexes, uid)
	if err := os.RemoveAll(filepath.Join(indexesDir(r.dataDir), uid)); err != nil {
		return fmt.Errorf("engine: remove index directory for %q: %w", uid, err)
	}
	r.log.Info().Str("index", uid).Msg("deleted index")
	return nil
}

// Rename implements processor.Registry: it moves an index's on-disk
// directory to a new uid and updates the registry's key under its mutex.
func (r *Registry) Rename(oldUID, newUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if oldUID == newUID {
		return domainErrors.NewSameNameError(newUID)
	}
	idx, ok := r.indexes[oldUID]
	if !ok {
		return domainErrors.NewIndexNotFoundError(oldUID)
	}
	if _, exists := r.indexes[newUID]; exists {
		return domainErrors.NewIndexAlreadyExistsError(newUID)
	}

	if err := idx.Close(); err != nil {
		return err
	}
	oldDir := filepath.Join(indexesDir(r.dataDir), oldUID)
	newDir := filepath.Join(indexesDir(r.dataDir), newUID)
	if err := os.Rename(oldDir, newDir); err != nil {
		return fmt.Errorf("engine: rename index directory: %w", err)
	}

	reopened, err := store.Open(indexPath(r.dataDir, newUID))
	if err != nil {
		return err
	}
	if err := reopened.Update(func(tx *kv.WriteTx) error {
		settings, ok, err := store.GetSettings(tx)
		if err != nil || !ok {
			return err
		}
		settings.Name = newUID
		return store.PutSettings(tx, settings)
	}); err != nil {
		reopened.Close()
		return err
	}

	delete(r.indexes, oldUID)
	r.indexes[newUID] = reopened
	return nil
}

// Swap implements processor.Registry: it exchanges the registry entries
// for a and b so that whichever uid clients were querying now resolves to
// the other index's data (no content is moved; only the registry keys swap).
func (r *Registry) Swap(a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a == b {
		return domainErrors.NewSameNameError(a)
	}
	idxA, ok := r.indexes[a]
	if !ok {
		return domainErrors.NewIndexNotFoundError(a)
	}
	idxB, ok := r.indexes[b]
	if !ok {
		return domainErrors.NewIndexNotFoundError(b)
	}
	r.indexes[a] = idxB
	r.indexes[b] = idxA
	return nil
}

// DumpPath and SnapshotPath report where a dump/snapshot would be written.
// The on-disk wire format for dumps and snapshots is out of scope; these
// exist only so DumpCreate/SnapshotCreate tasks have somewhere concrete to
// point to and can complete successfully.
func (r *Registry) DumpPath() (string, error) {
	return filepath.Join(r.dataDir, "dumps"), nil
}

func (r *Registry) SnapshotPath() (string, error) {
	return filepath.Join(r.dataDir, "snapshots"), nil
}
