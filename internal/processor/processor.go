// Package processor implements scheduler.Processor: it applies one batch's
// worth of tasks against the engine's index registry, dispatching each task
// by kind (one case per kind, each delegating to the matching registry or
// indexer call) across a batch that may mix several kinds compatible enough
// to share one.
package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gcbaptista/go-search-engine/config"
	domainErrors "github.com/gcbaptista/go-search-engine/internal/errors"
	"github.com/gcbaptista/go-search-engine/internal/filter"
	"github.com/gcbaptista/go-search-engine/internal/indexer"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/internal/scheduler"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/gcbaptista/go-search-engine/store"
)

// Registry is the subset of the index registry the processor needs:
// resolving an index uid to its store, and applying structural changes
// (create/delete/rename/swap) the processor can't express through
// store.Index alone.
type Registry interface {
	Open(uid string) (*store.Index, bool)
	Create(uid string, settings config.IndexSettings) (*store.Index, error)
	Delete(uid string) error
	Rename(oldUID, newUID string) error
	Swap(a, b string) error
	DumpPath() (string, error)
	SnapshotPath() (string, error)
}

// ContentReader resolves a task's content-uuid to the documents (or
// settings patch) a caller submitted for it, backed by the update-file
// store.
type ContentReader interface {
	ReadDocuments(uuid string) ([]model.Document, error)
	ReadSettings(uuid string) (config.IndexSettings, error)
	Delete(uuid string) error
}

// TaskStore is the subset of the task queue the processor needs to act on
// TaskCancel/TaskDelete, whose target id set was already resolved at
// registration time (Task.TargetTaskIDs).
type TaskStore interface {
	Get(id uint32) (model.Task, error)
	CancelTasks(ids []uint32, canceledBy uint32) ([]uint32, error)
	DeleteTasks(ids []uint32) ([]uint32, error)
}

// Processor implements scheduler.Processor against a Registry,
// ContentReader, and TaskStore.
type Processor struct {
	registry Registry
	content  ContentReader
	tasks    TaskStore
	workers  int
}

// New constructs a Processor. workers bounds the indexer's per-batch
// tokenization fan-out (internal/indexer.AddDocuments's workerCount).
func New(registry Registry, content ContentReader, tasks TaskStore, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{registry: registry, content: content, tasks: tasks, workers: workers}
}

// Process applies every task in tasks, grouped by the batch the scheduler
// already formed, returning a per-task outcome. A single task's failure
// never aborts its siblings, and Process never returns a batch-wide error:
// every failure, including resolving the index or reading content, is
// recorded as that task's own outcome. Tasks left when mustStop fires get
// no outcome.
func (p *Processor) Process(ctx context.Context, mustStop func() bool, batch model.Batch, tasks []model.Task) (map[uint32]scheduler.TaskOutcome, error) {
	outcomes := make(map[uint32]scheduler.TaskOutcome, len(tasks))

	for _, task := range tasks {
		if mustStop() {
			break
		}
		outcomes[task.ID] = p.processOne(task, mustStop)
	}
	return outcomes, nil
}

func (p *Processor) processOne(task model.Task, mustStop func() bool) scheduler.TaskOutcome {
	var (
		details model.TaskDetails
		err     error
	)

	switch task.Kind {
	case model.KindDocumentAdd:
		details, err = p.processDocumentAdd(task, mustStop)
	case model.KindDocumentEdit:
		details, err = p.processDocumentEdit(task, mustStop)
	case model.KindDocumentDeleteByIds:
		details, err = p.processDeleteByIds(task, mustStop)
	case model.KindDocumentDeleteByFilter:
		details, err = p.processDeleteByFilter(task, mustStop)
	case model.KindSettingsUpdate:
		details, err = p.processSettingsUpdate(task)
	case model.KindIndexCreate:
		details, err = p.processIndexCreate(task)
	case model.KindIndexUpdate:
		details, err = p.processIndexUpdate(task)
	case model.KindIndexDelete:
		err = p.registry.Delete(task.IndexUID)
	case model.KindIndexSwap:
		details, err = p.processIndexSwap(task)
	case model.KindDumpCreate:
		details, err = p.processDumpCreate()
	case model.KindSnapshotCreate:
		details, err = p.processSnapshotCreate()
	case model.KindTaskCancel:
		details, err = p.processTaskCancel(task)
	case model.KindTaskDelete:
		details, err = p.processTaskDelete(task)
	case model.KindNetworkTopologyChange:
		// Single-node deployment: nothing to reconcile.
	default:
		err = fmt.Errorf("processor: unknown task kind %q", task.Kind)
	}

	if err != nil {
		return scheduler.TaskOutcome{
			Status: model.TaskFailed,
			Error:  taskError(err),
		}
	}
	return scheduler.TaskOutcome{Status: model.TaskSucceeded, Details: details}
}

func taskError(err error) *model.TaskError {
	class := domainErrors.Classify(err)
	return &model.TaskError{
		Code:    string(class),
		Message: err.Error(),
		Type:    string(class),
	}
}

func (p *Processor) openIndex(uid string) (*store.Index, *config.IndexSettings, error) {
	idx, ok := p.registry.Open(uid)
	if !ok {
		return nil, nil, domainErrors.NewIndexNotFoundError(uid)
	}
	var settings config.IndexSettings
	err := idx.View(func(tx *kv.Tx) error {
		s, ok, err := store.GetSettings(tx)
		if err != nil {
			return err
		}
		if ok {
			settings = s
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return idx, &settings, nil
}

func (p *Processor) processDocumentAdd(task model.Task, mustStop func() bool) (model.TaskDetails, error) {
	if task.ContentUUID == nil {
		return nil, fmt.Errorf("processor: documentAdd task %d missing content-uuid", task.ID)
	}
	docs, err := p.content.ReadDocuments(*task.ContentUUID)
	if err != nil {
		return nil, err
	}
	idx, settings, err := p.openIndex(task.IndexUID)
	if err != nil {
		return nil, err
	}
	report, err := indexer.AddDocuments(idx, settings, docs, p.workers, mustStop)
	if err != nil {
		return nil, err
	}
	return model.TaskDetails{
		"indexedDocuments": report.IndexedCount,
		"failedRecords":    len(report.FailedRecords),
		"primaryKey":       report.PrimaryKey,
	}, nil
}

// processDocumentEdit merges each caller-supplied patch into the document
// named by its external id in the content file, re-running the result
// through the same add/update path as a normal document replacement. The
// merge is shallow: each top-level key of the patch replaces the stored
// value whole, nested objects are not merged, and a null value is stored
// as null rather than removing the key. A patch without a primary-key
// value is skipped.
func (p *Processor) processDocumentEdit(task model.Task, mustStop func() bool) (model.TaskDetails, error) {
	if task.ContentUUID == nil {
		return nil, fmt.Errorf("processor: documentEdit task %d missing content-uuid", task.ID)
	}
	patches, err := p.content.ReadDocuments(*task.ContentUUID)
	if err != nil {
		return nil, err
	}
	idx, settings, err := p.openIndex(task.IndexUID)
	if err != nil {
		return nil, err
	}

	primaryKey := settings.PrimaryKeyField
	merged := make([]model.Document, 0, len(patches))
	for _, patch := range patches {
		externalID, ok := patch.PrimaryKeyValue(primaryKey)
		if !ok {
			continue
		}
		var existing model.Document
		err := idx.View(func(tx *kv.Tx) error {
			docID, ok, err := store.ResolveExternalID(tx, externalID)
			if err != nil || !ok {
				return err
			}
			doc, ok, err := store.GetDocument(tx, docID)
			if err != nil || !ok {
				return err
			}
			existing = doc
			return nil
		})
		if err != nil {
			return nil, err
		}
		if existing == nil {
			existing = model.Document{}
		}
		for k, v := range patch {
			existing[k] = v
		}
		merged = append(merged, existing)
	}

	report, err := indexer.AddDocuments(idx, settings, merged, p.workers, mustStop)
	if err != nil {
		return nil, err
	}
	return model.TaskDetails{"editedDocuments": report.IndexedCount}, nil
}

func (p *Processor) processDeleteByIds(task model.Task, mustStop func() bool) (model.TaskDetails, error) {
	ids, ok := task.Details["ids"].([]string)
	if !ok {
		if raw, exists := task.Details["ids"]; exists {
			ids = toStringSlice(raw)
		}
	}
	idx, _, err := p.openIndex(task.IndexUID)
	if err != nil {
		return nil, err
	}
	removed, err := indexer.RemoveDocuments(idx, ids, mustStop)
	if err != nil {
		return nil, err
	}
	return model.TaskDetails{"deletedDocuments": removed}, nil
}

// processDeleteByFilter resolves the filter embedded in task.Details
// ("filterKeys", a flat field_operator -> value map ANDed together; see
// internal/filter.ParseKey) against the index's candidate bitmap, then
// deletes every matched document by its primary key. Arbitrary nested
// filter trees aren't supported as a deletion target in this pass, only
// the flat AND-of-conditions shape a simple deletion request needs.
func (p *Processor) processDeleteByFilter(task model.Task, mustStop func() bool) (model.TaskDetails, error) {
	raw, _ := task.Details["filterKeys"].(map[string]interface{})
	if len(raw) == 0 {
		return nil, fmt.Errorf("processor: documentDeleteByFilter task %d has no filter", task.ID)
	}
	node := filter.Node{Kind: filter.And}
	for key, value := range raw {
		field, operator := filter.ParseKey(key)
		node.Children = append(node.Children, filter.Node{
			Kind:      filter.Leaf,
			Condition: filter.Condition{Field: field, Operator: operator, Value: value},
		})
	}

	idx, settings, err := p.openIndex(task.IndexUID)
	if err != nil {
		return nil, err
	}

	var externalIDs []string
	err = idx.View(func(tx *kv.Tx) error {
		bitmap, err := filter.Eval(tx, settings, node)
		if err != nil {
			return err
		}
		it := bitmap.Iterator()
		for it.HasNext() {
			docID := it.Next()
			doc, ok, err := store.GetDocument(tx, docID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if externalID, ok := doc.PrimaryKeyValue(settings.PrimaryKeyField); ok {
				externalIDs = append(externalIDs, externalID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	removed, err := indexer.RemoveDocuments(idx, externalIDs, mustStop)
	if err != nil {
		return nil, err
	}
	return model.TaskDetails{"deletedDocuments": removed}, nil
}

func (p *Processor) processSettingsUpdate(task model.Task) (model.TaskDetails, error) {
	if task.ContentUUID == nil {
		return nil, fmt.Errorf("processor: settingsUpdate task %d missing content-uuid", task.ID)
	}
	patch, err := p.content.ReadSettings(*task.ContentUUID)
	if err != nil {
		return nil, err
	}
	idx, current, err := p.openIndex(task.IndexUID)
	if err != nil {
		return nil, err
	}
	merged := current.Merge(patch)
	if err := idx.Update(func(tx *kv.WriteTx) error {
		return store.PutSettings(tx, merged)
	}); err != nil {
		return nil, err
	}
	return model.TaskDetails{"requiresReindex": current.RequiresReindex(merged)}, nil
}

func (p *Processor) processIndexCreate(task model.Task) (model.TaskDetails, error) {
	settings := config.DefaultIndexSettings(task.IndexUID)
	if task.ContentUUID != nil {
		patch, err := p.content.ReadSettings(*task.ContentUUID)
		if err != nil {
			return nil, err
		}
		settings = settings.Merge(patch)
	}
	settings.ApplyDefaults()
	if _, err := p.registry.Create(task.IndexUID, settings); err != nil {
		return nil, err
	}
	return model.TaskDetails{"indexUid": task.IndexUID}, nil
}

func (p *Processor) processIndexUpdate(task model.Task) (model.TaskDetails, error) {
	newName, _ := task.Details["newIndexUid"].(string)
	if newName == "" || newName == task.IndexUID {
		return nil, nil
	}
	if err := p.registry.Rename(task.IndexUID, newName); err != nil {
		return nil, err
	}
	return model.TaskDetails{"renamedTo": newName}, nil
}

func (p *Processor) processIndexSwap(task model.Task) (model.TaskDetails, error) {
	other, _ := task.Details["swapWith"].(string)
	if other == "" {
		return nil, fmt.Errorf("processor: indexSwap task %d missing swapWith", task.ID)
	}
	if err := p.registry.Swap(task.IndexUID, other); err != nil {
		return nil, err
	}
	return model.TaskDetails{"swapped": []string{task.IndexUID, other}}, nil
}

// processTaskCancel cancels every task in the cancel task's resolved
// target set (Task.TargetTaskIDs, computed once at registration) rather
// than re-evaluating the filter each time a batch runs. A canceled task
// never shares a batch with the TaskCancel that targets it, so its
// terminal transition never passes through scheduler.finishBatch; this is
// the only place its update file (if any) gets cleaned up.
func (p *Processor) processTaskCancel(task model.Task) (model.TaskDetails, error) {
	canceled, err := p.tasks.CancelTasks(task.TargetTaskIDs, task.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range canceled {
		t, err := p.tasks.Get(id)
		if err != nil || t.ContentUUID == nil {
			continue
		}
		_ = p.content.Delete(*t.ContentUUID)
	}
	return model.TaskDetails{"canceledTasks": canceled}, nil
}

func (p *Processor) processTaskDelete(task model.Task) (model.TaskDetails, error) {
	deleted, err := p.tasks.DeleteTasks(task.TargetTaskIDs)
	if err != nil {
		return nil, err
	}
	return model.TaskDetails{"deletedTasks": deleted}, nil
}

func (p *Processor) processDumpCreate() (model.TaskDetails, error) {
	path, err := p.registry.DumpPath()
	if err != nil {
		return nil, err
	}
	return model.TaskDetails{"path": path}, nil
}

func (p *Processor) processSnapshotCreate() (model.TaskDetails, error) {
	path, err := p.registry.SnapshotPath()
	if err != nil {
		return nil, err
	}
	return model.TaskDetails{"path": path}, nil
}

func toStringSlice(raw interface{}) []string {
	switch v := raw.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case json.RawMessage:
		var out []string
		_ = json.Unmarshal(v, &out)
		return out
	default:
		return nil
	}
}
