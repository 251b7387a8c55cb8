package engine

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/persistence"
	"github.com/gcbaptista/go-search-engine/model"
)

// UpdateFiles is the content-addressed store backing a task's ContentUUID:
// one gob-encoded file per registered update, under
// <data-dir>/update_files/<uuid>. It builds on
// internal/persistence.SaveGob/LoadGob's "create directories, write a file
// by path, report errors with %w" idiom.
type UpdateFiles struct {
	dir string
}

// NewUpdateFiles returns a store rooted at <dataDir>/update_files.
func NewUpdateFiles(dataDir string) *UpdateFiles {
	return &UpdateFiles{dir: filepath.Join(dataDir, "update_files")}
}

func (u *UpdateFiles) path(id string) string {
	return filepath.Join(u.dir, id)
}

// WriteDocuments persists docs and returns the new update file's uuid.
func (u *UpdateFiles) WriteDocuments(docs []model.Document) (string, error) {
	id := uuid.NewString()
	if err := persistence.SaveGob(u.path(id), docs); err != nil {
		return "", err
	}
	return id, nil
}

// WriteSettings persists a settings patch and returns the new update
// file's uuid.
func (u *UpdateFiles) WriteSettings(patch config.IndexSettings) (string, error) {
	id := uuid.NewString()
	if err := persistence.SaveGob(u.path(id), patch); err != nil {
		return "", err
	}
	return id, nil
}

// ReadDocuments implements processor.ContentReader.
func (u *UpdateFiles) ReadDocuments(id string) ([]model.Document, error) {
	var docs []model.Document
	if err := persistence.LoadGob(u.path(id), &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ReadSettings implements processor.ContentReader.
func (u *UpdateFiles) ReadSettings(id string) (config.IndexSettings, error) {
	var settings config.IndexSettings
	if err := persistence.LoadGob(u.path(id), &settings); err != nil {
		return config.IndexSettings{}, err
	}
	return settings, nil
}

// Delete removes an update file once the task that owns it reaches a
// terminal state and no other task still references it; a missing file is
// not an error, since deletion is best-effort cleanup rather than a
// correctness requirement.
func (u *UpdateFiles) Delete(id string) error {
	if err := os.Remove(u.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ComputeSize walks update_files/ and sums the byte size of every file
// currently stored there.
func (u *UpdateFiles) ComputeSize() (int64, error) {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
