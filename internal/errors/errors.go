package errors

import (
	"errors"
	"fmt"
)

// Class names which of the four buckets in the error-handling model an
// error belongs to: user errors are surfaced verbatim and never retried,
// transient errors are retried by the scheduler with backoff, fatal errors
// abort the batch and may escalate, and partial errors are recorded
// per-document without failing the whole task.
type Class string

const (
	ClassUser      Class = "user"
	ClassTransient Class = "transient"
	ClassFatal     Class = "fatal"
	ClassPartial   Class = "partial"
)

// Sentinel errors for common error conditions
var (
	// ErrIndexNotFound is returned when an index is not found
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexAlreadyExists is returned when trying to create an index that already exists
	ErrIndexAlreadyExists = errors.New("index already exists")

	// ErrDocumentNotFound is returned when a document is not found
	ErrDocumentNotFound = errors.New("document not found")

	// ErrTaskNotFound is returned when a task id has no matching entry in the queue
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrSameName is returned when trying to rename to the same name
	ErrSameName = errors.New("same name provided")

	// ErrInvalidFilter is returned when a filter expression fails to parse
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidSort is returned when a sort expression fails to parse
	ErrInvalidSort = errors.New("invalid sort")

	// ErrUnsortableAttribute is returned when a sort references a non-sortable field
	ErrUnsortableAttribute = errors.New("unsortable attribute")

	// ErrUnfilterableAttribute is returned when a filter references a non-filterable field
	ErrUnfilterableAttribute = errors.New("unfilterable attribute")

	// ErrFacetSearchDisabled is returned when facet search is requested on a field not in FacetSearchFields
	ErrFacetSearchDisabled = errors.New("facet search disabled")

	// ErrBadTaskID is returned when an explicitly requested task id isn't >= the next assignable id
	ErrBadTaskID = errors.New("bad task id")

	// ErrPrimaryKeyAlreadySet is returned when a primary key inference attempt conflicts with the existing one
	ErrPrimaryKeyAlreadySet = errors.New("primary key already set")

	// ErrAttributeLimitReached is returned when the field-ids map has no room for a new field
	ErrAttributeLimitReached = errors.New("attribute limit reached")

	// ErrMissingDocumentID is returned when a document lacks its primary key field
	ErrMissingDocumentID = errors.New("missing document id")

	// ErrInvalidDocumentID is returned when a document's primary key value isn't a valid id
	ErrInvalidDocumentID = errors.New("invalid document id")

	// ErrIndexSwapDuplicate is returned when an index swap names the same index twice
	ErrIndexSwapDuplicate = errors.New("duplicate index name in swap")

	// ErrStoreBusy is a transient error: the store is temporarily locked and the task should be retried
	ErrStoreBusy = errors.New("store busy")

	// ErrTempIOError is a transient error: a filesystem operation failed but may succeed on retry
	ErrTempIOError = errors.New("temporary io error")

	// ErrStoreCorrupted is a fatal error: the on-disk store failed an integrity check
	ErrStoreCorrupted = errors.New("store corrupted")

	// ErrCorruptedTaskQueue is a fatal error: the task queue itself failed an integrity check
	ErrCorruptedTaskQueue = errors.New("corrupted task queue")

	// ErrStoreFull is a fatal error: disk space was exhausted and retry did not recover it
	ErrStoreFull = errors.New("store full")

	// ErrOutOfSpaceInQueue is a fatal error: the task queue has no room for new tasks
	ErrOutOfSpaceInQueue = errors.New("out of space in task queue")
)

// IndexNotFoundError represents an index not found error with context
type IndexNotFoundError struct {
	IndexName string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index named '%s' not found", e.IndexName)
}

func (e *IndexNotFoundError) Is(target error) bool {
	return target == ErrIndexNotFound
}

// NewIndexNotFoundError creates a new IndexNotFoundError
func NewIndexNotFoundError(indexName string) *IndexNotFoundError {
	return &IndexNotFoundError{IndexName: indexName}
}

// IndexAlreadyExistsError represents an index already exists error with context
type IndexAlreadyExistsError struct {
	IndexName string
}

func (e *IndexAlreadyExistsError) Error() string {
	return fmt.Sprintf("index named '%s' already exists", e.IndexName)
}

func (e *IndexAlreadyExistsError) Is(target error) bool {
	return target == ErrIndexAlreadyExists
}

// NewIndexAlreadyExistsError creates a new IndexAlreadyExistsError
func NewIndexAlreadyExistsError(indexName string) *IndexAlreadyExistsError {
	return &IndexAlreadyExistsError{IndexName: indexName}
}

// DocumentNotFoundError represents a document not found error with context
type DocumentNotFoundError struct {
	DocumentID string
	IndexName  string
}

func (e *DocumentNotFoundError) Error() string {
	if e.IndexName != "" {
		return fmt.Sprintf("document with ID '%s' not found in index '%s'", e.DocumentID, e.IndexName)
	}
	return fmt.Sprintf("document with ID '%s' not found", e.DocumentID)
}

func (e *DocumentNotFoundError) Is(target error) bool {
	return target == ErrDocumentNotFound
}

// NewDocumentNotFoundError creates a new DocumentNotFoundError
func NewDocumentNotFoundError(documentID string, indexName ...string) *DocumentNotFoundError {
	err := &DocumentNotFoundError{DocumentID: documentID}
	if len(indexName) > 0 {
		err.IndexName = indexName[0]
	}
	return err
}

// TaskNotFoundError represents a task id with no matching queue entry
type TaskNotFoundError struct {
	TaskID uint32
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task with uid %d not found", e.TaskID)
}

func (e *TaskNotFoundError) Is(target error) bool {
	return target == ErrTaskNotFound
}

// NewTaskNotFoundError creates a new TaskNotFoundError
func NewTaskNotFoundError(taskID uint32) *TaskNotFoundError {
	return &TaskNotFoundError{TaskID: taskID}
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// SameNameError represents an error when trying to rename to the same name
type SameNameError struct {
	Name string
}

func (e *SameNameError) Error() string {
	return fmt.Sprintf("new name '%s' is the same as the current name", e.Name)
}

func (e *SameNameError) Is(target error) bool {
	return target == ErrSameName
}

// NewSameNameError creates a new SameNameError
func NewSameNameError(name string) *SameNameError {
	return &SameNameError{Name: name}
}

// FilterFieldError is raised when a filter references an attribute that
// isn't declared filterable. FilterableOnes lists the valid alternatives so
// the caller can correct the query without a second round trip.
type FilterFieldError struct {
	Field          string
	FilterableOnes []string
}

func (e *FilterFieldError) Error() string {
	return fmt.Sprintf("attribute '%s' is not filterable, valid filterable attributes are: %v", e.Field, e.FilterableOnes)
}

func (e *FilterFieldError) Is(target error) bool {
	return target == ErrUnfilterableAttribute
}

// NewFilterFieldError creates a new FilterFieldError
func NewFilterFieldError(field string, filterable []string) *FilterFieldError {
	return &FilterFieldError{Field: field, FilterableOnes: filterable}
}

// SortFieldError is raised when a sort references an attribute that isn't
// declared sortable.
type SortFieldError struct {
	Field        string
	SortableOnes []string
}

func (e *SortFieldError) Error() string {
	return fmt.Sprintf("attribute '%s' is not sortable, valid sortable attributes are: %v", e.Field, e.SortableOnes)
}

func (e *SortFieldError) Is(target error) bool {
	return target == ErrUnsortableAttribute
}

// NewSortFieldError creates a new SortFieldError
func NewSortFieldError(field string, sortable []string) *SortFieldError {
	return &SortFieldError{Field: field, SortableOnes: sortable}
}

// BadTaskIDError is returned when register() is called with an explicit
// task id that isn't >= the next assignable id.
type BadTaskIDError struct {
	Requested uint32
	NextID    uint32
}

func (e *BadTaskIDError) Error() string {
	return fmt.Sprintf("requested task id %d is not >= next assignable id %d", e.Requested, e.NextID)
}

func (e *BadTaskIDError) Is(target error) bool {
	return target == ErrBadTaskID
}

// NewBadTaskIDError creates a new BadTaskIDError
func NewBadTaskIDError(requested, nextID uint32) *BadTaskIDError {
	return &BadTaskIDError{Requested: requested, NextID: nextID}
}

// AttributeLimitReachedError is raised when the field-ids map's id space is
// exhausted during indexing.
type AttributeLimitReachedError struct {
	Limit int
}

func (e *AttributeLimitReachedError) Error() string {
	return fmt.Sprintf("attribute limit of %d distinct fields reached", e.Limit)
}

func (e *AttributeLimitReachedError) Is(target error) bool {
	return target == ErrAttributeLimitReached
}

// NewAttributeLimitReachedError creates a new AttributeLimitReachedError
func NewAttributeLimitReachedError(limit int) *AttributeLimitReachedError {
	return &AttributeLimitReachedError{Limit: limit}
}

// PartialDocumentError describes one failed record within an otherwise
// successful document-add task. It is attached to the task's details and
// does not, by itself, fail the task.
type PartialDocumentError struct {
	RecordIndex int
	Reason      string
}

func (e *PartialDocumentError) Error() string {
	return fmt.Sprintf("record %d: %s", e.RecordIndex, e.Reason)
}

// Classify reports which of the four error-handling buckets err falls
// into. Anything not recognized as transient or user-facing classifies as
// fatal: an unclassified error should abort rather than retry silently
// forever.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStoreBusy), errors.Is(err, ErrTempIOError):
		return ClassTransient
	case errors.Is(err, ErrStoreCorrupted), errors.Is(err, ErrCorruptedTaskQueue),
		errors.Is(err, ErrStoreFull), errors.Is(err, ErrOutOfSpaceInQueue):
		return ClassFatal
	case isUserError(err):
		return ClassUser
	default:
		return ClassFatal
	}
}

func isUserError(err error) bool {
	userSentinels := []error{
		ErrInvalidFilter, ErrInvalidSort, ErrUnsortableAttribute, ErrUnfilterableAttribute,
		ErrFacetSearchDisabled, ErrBadTaskID, ErrIndexNotFound, ErrIndexAlreadyExists,
		ErrPrimaryKeyAlreadySet, ErrAttributeLimitReached, ErrMissingDocumentID,
		ErrInvalidDocumentID, ErrIndexSwapDuplicate, ErrInvalidInput, ErrSameName,
		ErrDocumentNotFound, ErrTaskNotFound,
	}
	for _, s := range userSentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
