package engine

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/batchstore"
	domainErrors "github.com/gcbaptista/go-search-engine/internal/errors"
	"github.com/gcbaptista/go-search-engine/internal/facet"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/internal/processor"
	"github.com/gcbaptista/go-search-engine/internal/scheduler"
	"github.com/gcbaptista/go-search-engine/internal/search"
	"github.com/gcbaptista/go-search-engine/internal/taskqueue"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/gcbaptista/go-search-engine/store"
)

// App is the top-level instance: the registry, the durable task queue, the
// batch store, the scheduler, and the processor, wired together into one
// running instance along with the durable-queue plumbing.
type App struct {
	log zerolog.Logger

	Registry    *Registry
	UpdateFiles *UpdateFiles
	Queue       *taskqueue.Queue
	Batches     *batchstore.Store
	scheduler   *scheduler.Scheduler
}

// NewApp opens every durable store under cfg.DataDir, builds the
// registry/processor/scheduler chain, and starts the scheduler's run loop.
// Call Close to stop the scheduler and release every open file.
func NewApp(cfg config.EngineConfig, log zerolog.Logger) (*App, error) {
	registry, err := NewRegistry(cfg.DataDir, log)
	if err != nil {
		return nil, fmt.Errorf("engine: open registry: %w", err)
	}

	queue, err := taskqueue.Open(filepath.Join(cfg.DataDir, "tasks.db"))
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("engine: open task queue: %w", err)
	}

	batches, err := batchstore.Open(filepath.Join(cfg.DataDir, "batches.db"))
	if err != nil {
		queue.Close()
		registry.Close()
		return nil, fmt.Errorf("engine: open batch store: %w", err)
	}

	updateFiles := NewUpdateFiles(cfg.DataDir)
	proc := processor.New(registry, updateFiles, queue, cfg.IndexingWorkerCount)

	a := &App{
		log:         log,
		Registry:    registry,
		UpdateFiles: updateFiles,
		Queue:       queue,
		Batches:     batches,
	}
	a.scheduler = scheduler.New(queue, batches, proc, a.pendingSettingsRequireReindex, log)
	a.scheduler.WithCleanupPolicy(scheduler.CleanupPolicy{
		MaxTasks:               cfg.MaxTasks,
		DeleteBatchSize:        cfg.DeleteBatchSize,
		MinimumDeleteToProceed: cfg.MinimumDeleteToProceed,
	})
	a.scheduler.WithContentDeleter(updateFiles)
	a.scheduler.Start()
	return a, nil
}

// Close stops the scheduler's run loop and releases every open store.
func (a *App) Close() error {
	a.scheduler.Stop()
	var firstErr error
	if err := a.Queue.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Batches.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Registry.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// pendingSettingsRequireReindex answers autobatch's question for a
// SettingsUpdate/DocumentAdd pairing: does indexUID have an Enqueued
// SettingsUpdate task whose patch would force a reindex against the
// index's current settings. Matches scheduler.RequiresReindexFunc.
func (a *App) pendingSettingsRequireReindex(indexUID string) bool {
	pending, err := a.Queue.Matching(model.TasksQuery{
		Kinds:     []model.TaskKind{model.KindSettingsUpdate},
		Statuses:  []model.TaskStatus{model.TaskEnqueued},
		IndexUIDs: []string{indexUID},
	})
	if err != nil || len(pending) == 0 {
		return false
	}

	current, found, err := a.Registry.Settings(indexUID)
	if err != nil || !found {
		return false
	}

	for _, task := range pending {
		if task.ContentUUID == nil {
			continue
		}
		patch, err := a.UpdateFiles.ReadSettings(*task.ContentUUID)
		if err != nil {
			continue
		}
		if current.RequiresReindex(current.Merge(patch)) {
			return true
		}
	}
	return false
}

// prepareTask runs the registration-time work shared by RegisterTask and
// RegisterTaskDryRun: resolving TaskCancel/TaskDelete's embedded filter
// into a concrete target id set (computed once here and never re-evaluated
// later) and rejecting an IndexSwap whose two names are the same.
func (a *App) prepareTask(task model.Task) (model.Task, error) {
	if task.Kind == model.KindIndexSwap {
		other, _ := task.Details["swapWith"].(string)
		if other == task.IndexUID {
			return model.Task{}, fmt.Errorf("%w: %q", domainErrors.ErrIndexSwapDuplicate, other)
		}
	}

	if (task.Kind == model.KindTaskCancel || task.Kind == model.KindTaskDelete) && task.Filter != nil {
		matches, err := a.Queue.Matching(model.TasksQuery{
			UIDs:             task.Filter.UIDs,
			BatchUIDs:        task.Filter.BatchUIDs,
			Statuses:         task.Filter.Statuses,
			Kinds:            task.Filter.Kinds,
			IndexUIDs:        task.Filter.IndexUIDs,
			BeforeEnqueuedAt: task.Filter.BeforeEnqueuedAt,
			AfterEnqueuedAt:  task.Filter.AfterEnqueuedAt,
		})
		if err != nil {
			return model.Task{}, err
		}
		ids := make([]uint32, 0, len(matches))
		for _, t := range matches {
			ids = append(ids, t.ID)
		}
		task.TargetTaskIDs = ids
	}
	return task, nil
}

// RegisterTask validates and enqueues task, then wakes the scheduler so it
// doesn't wait out a full poll interval.
func (a *App) RegisterTask(task model.Task) (model.Task, error) {
	task, err := a.prepareTask(task)
	if err != nil {
		return model.Task{}, err
	}

	registered, err := a.Queue.Register(task)
	if err != nil {
		return model.Task{}, err
	}
	a.scheduler.Wake()
	return registered, nil
}

// RegisterTaskDryRun runs the same validation and target resolution as
// RegisterTask and returns the task that would have been enqueued, leaving
// the queue untouched.
func (a *App) RegisterTaskDryRun(task model.Task) (model.Task, error) {
	task, err := a.prepareTask(task)
	if err != nil {
		return model.Task{}, err
	}
	return a.Queue.RegisterDryRun(task)
}

// Search runs a query against uid's current index state.
func (a *App) Search(uid string, req search.Request) (search.Response, error) {
	idx, ok := a.Registry.Open(uid)
	if !ok {
		return search.Response{}, domainErrors.NewIndexNotFoundError(uid)
	}
	settings, found, err := a.Registry.Settings(uid)
	if err != nil {
		return search.Response{}, err
	}
	if !found {
		settings = config.DefaultIndexSettings(uid)
	}
	return search.Run(idx, &settings, req)
}

// FacetSearch returns field's facet values starting with query against
// uid's current index state, honoring the settings' facet-search field
// allowlist and the faceting value cap. A field not in FacetSearchFields
// fails with ErrFacetSearchDisabled rather than returning an empty list,
// so a caller can tell "disabled" apart from "no matching values".
func (a *App) FacetSearch(uid, field, query string) ([]facet.ValueCount, error) {
	idx, ok := a.Registry.Open(uid)
	if !ok {
		return nil, domainErrors.NewIndexNotFoundError(uid)
	}
	settings, found, err := a.Registry.Settings(uid)
	if err != nil {
		return nil, err
	}
	if !found {
		settings = config.DefaultIndexSettings(uid)
	}

	allowed := false
	for _, f := range settings.FacetSearchFields {
		if f == field {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: field %q", domainErrors.ErrFacetSearchDisabled, field)
	}

	var out []facet.ValueCount
	err = idx.View(func(tx *kv.Tx) error {
		fieldID, ok := store.LookupFieldID(tx, field)
		if !ok {
			return nil
		}
		values, err := facet.Search(tx, fieldID, query)
		if err != nil {
			return err
		}
		if limit := settings.Faceting.MaxValuesPerFacet; limit > 0 && len(values) > limit {
			values = values[:limit]
		}
		out = values
		return nil
	})
	return out, err
}
