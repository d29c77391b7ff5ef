package loader

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned for nil, empty or malformed keys.
	ErrInvalidKey = errors.New("docload: invalid key")

	// ErrInvalidQuery is returned when a query is rejected before reaching the backend.
	ErrInvalidQuery = errors.New("docload: invalid query")

	// ErrNoLoader is returned when the context carries no Loader.
	ErrNoLoader = errors.New("docload: no loader in context")

	// ErrTransactionConflict is returned by backends when a commit loses a conflict.
	ErrTransactionConflict = errors.New("docload: transaction conflict")

	// ErrTransactionClosed is returned when a committed or rolled back transaction is used.
	ErrTransactionClosed = errors.New("docload: transaction already closed")

	// ErrAlreadyExists is returned by backends when Insert targets an existing document.
	ErrAlreadyExists = errors.New("docload: document already exists")

	// ErrNotFound is returned by backends when Update targets a missing document.
	// Reads never return it; a missing document is a nil result.
	ErrNotFound = errors.New("docload: document not found")
)

// BatchFetchError reports a failed batched read. Err is the first error
// encountered, in request order.
type BatchFetchError struct {
	Key *Key
	Err error
}

func (e *BatchFetchError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("docload: batch fetch: %v", e.Err)
	}
	return fmt.Sprintf("docload: batch fetch %s: %v", e.Key, e.Err)
}

func (e *BatchFetchError) Unwrap() error { return e.Err }

// BackendWriteError reports a failed write. For chunked writes outside a
// transaction, chunks that succeeded stay applied.
type BackendWriteError struct {
	Op           Op
	FailedChunks int
	TotalChunks  int
	Err          error
}

func (e *BackendWriteError) Error() string {
	return fmt.Sprintf("docload: %s failed (%d/%d chunks): %v", e.Op, e.FailedChunks, e.TotalChunks, e.Err)
}

func (e *BackendWriteError) Unwrap() error { return e.Err }

// nonFatalError marks an error as an expected reason to abandon a transaction.
type nonFatalError struct {
	err error
}

func (e *nonFatalError) Error() string { return e.err.Error() }
func (e *nonFatalError) Unwrap() error { return e.err }

// NonFatal wraps err so that a rollback it causes is reported as a warning
// rather than an error. Control flow is unchanged.
func NonFatal(err error) error {
	if err == nil {
		return nil
	}
	return &nonFatalError{err: err}
}

// IsNonFatal reports whether err or anything it wraps was marked with NonFatal.
func IsNonFatal(err error) bool {
	var nf *nonFatalError
	return errors.As(err, &nf)
}
