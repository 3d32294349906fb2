// Package executor defines the execution contract between the orchestration
// core and job-type implementations, plus the registry that resolves a job's
// type tag to an executor at fire time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chronos/internal/models"
)

// ConditionTag classifies an execution failure for the retry engine. The
// vocabulary is small and fixed; unclassified errors fall back to
// TagServerError.
type ConditionTag string

const (
	TagTimeout         ConditionTag = "timeout"
	TagConnectionError ConditionTag = "connection_error"
	TagServerError     ConditionTag = "server_error"
	TagValidationError ConditionTag = "validation_error"
	TagWorkerLost      ConditionTag = "worker_lost"
)

// Error is a failure already classified by an executor.
type Error struct {
	Tag ConditionTag
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Tag, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fail builds a classified execution error.
func Fail(tag ConditionTag, format string, args ...any) *Error {
	return &Error{Tag: tag, Err: fmt.Errorf(format, args...)}
}

// Classify extracts the condition tag from an execution error.
func Classify(err error) ConditionTag {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Tag
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TagTimeout
	}
	return TagServerError
}

// Executor performs the actual work of one job type. Implementations are
// invoked from dispatcher worker goroutines and may block; they must parse
// their own payloads (the core never inspects them) and classify failures
// via Fail.
type Executor interface {
	Execute(ctx context.Context, job *models.Job, run *models.JobRun) error
}

// Registry maps a job's type tag to its executor. Resolved once at startup;
// adding a job type means registering a new implementation, not changing
// the core.
type Registry struct {
	mu        sync.Mutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (r *Registry) Register(jobType string, ex Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[jobType]; exists {
		return fmt.Errorf("executor for job type '%s' already registered", jobType)
	}
	r.executors[jobType] = ex
	return nil
}

func (r *Registry) Lookup(jobType string) (Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ex, exists := r.executors[jobType]
	if !exists {
		return nil, fmt.Errorf("executor for job type '%s' not found", jobType)
	}
	return ex, nil
}

func (r *Registry) Exists(jobType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.executors[jobType]
	return exists
}

func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}
