package errors

import (
	"sort"
	"sync"
	"time"
)

// PathError records a failure tied to a single document path
type PathError struct {
	Path      string
	Err       error
	Timestamp time.Time
}

// Error implements the error interface
func (pe *PathError) Error() string {
	return pe.Path + ": " + pe.Err.Error()
}

// Unwrap returns the underlying error
func (pe *PathError) Unwrap() error {
	return pe.Err
}

// ErrorCollector collects per-path failures from sweeps that must not abort
// on the first error.
type ErrorCollector struct {
	errors []PathError
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{errors: make([]PathError, 0)}
}

// Add records a failure for path. Nil errors are ignored.
func (ec *ErrorCollector) Add(path string, err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, PathError{Path: path, Err: err, Timestamp: time.Now()})
}

// GetErrors returns a copy of the collected errors ordered by path
func (ec *ErrorCollector) GetErrors() []PathError {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]PathError, len(ec.errors))
	copy(result, ec.errors)
	sort.SliceStable(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// Err folds the collected errors into one error, or nil when empty
func (ec *ErrorCollector) Err() error {
	errs := ec.GetErrors()
	if len(errs) == 0 {
		return nil
	}
	all := make([]error, 0, len(errs))
	for i := range errs {
		all = append(all, &errs[i])
	}
	return CombineErrors(all...)
}
