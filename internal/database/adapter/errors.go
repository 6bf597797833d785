package adapter

import (
	"errors"
	"fmt"
)

// Standard errors shared across backends.
var (
	// ErrConnectionFailed is returned when an adapter cannot reach its engine.
	// Adapters report it immediately and never retry; retry policy belongs to
	// the selector and the sync service.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrConnectionClosed is returned when using an adapter that is not connected.
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrNotFound is returned by update/delete/read on a missing document id.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateID is returned by create when the id already exists and
	// merge was not requested.
	ErrDuplicateID = errors.New("document id already exists")

	// ErrUnsupportedOperator is returned when a query filter uses an operator
	// the adapter cannot translate.
	ErrUnsupportedOperator = errors.New("unsupported filter operator")

	// ErrOperationNotSupported is returned when a backend cannot perform an
	// operation at all (for example live subscriptions on the relational engine).
	ErrOperationNotSupported = errors.New("operation not supported by this backend")

	// ErrNoHealthyBackend is the selector's routing failure: no backend is
	// available to execute the operation. It is fatal for the calling
	// operation and is not retried internally.
	ErrNoHealthyBackend = errors.New("no healthy backend available")

	// ErrTransactionAborted is returned when a transaction body fails and the
	// transaction is rolled back.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrSyncConflict marks divergence detected during propagation. It is
	// handled asynchronously by the sync service and never surfaces to the
	// caller that performed the original write.
	ErrSyncConflict = errors.New("sync conflict detected")

	// ErrInvalidQuery is returned for structurally malformed queries.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrQueueFull is returned when the sync queue rejects an event.
	ErrQueueFull = errors.New("sync queue full")
)

// DatabaseError wraps engine-specific errors with backend and operation
// context, giving a consistent error shape across both adapters.
type DatabaseError struct {
	Backend   BackendType
	Operation string
	Cause     error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Backend, e.Operation, e.Cause)
}

func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WrapError wraps err with backend context. Errors that already carry
// context pass through unchanged.
func WrapError(backend BackendType, operation string, err error) error {
	if err == nil {
		return nil
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	return &DatabaseError{Backend: backend, Operation: operation, Cause: err}
}

// ConnectionError is returned when a backend cannot be reached.
type ConnectionError struct {
	Backend BackendType
	Host    string
	Port    int
	Cause   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s at %s:%d: %v", e.Backend, e.Host, e.Port, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

func (e *ConnectionError) Is(target error) bool {
	if errors.Is(target, ErrConnectionFailed) {
		return true
	}
	return errors.Is(e.Cause, target)
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(backend BackendType, host string, port int, cause error) *ConnectionError {
	return &ConnectionError{Backend: backend, Host: host, Port: port, Cause: cause}
}

// NotFoundError is returned for operations on a missing document.
type NotFoundError struct {
	Backend    BackendType
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %s/%s not found in %s", e.Collection, e.ID, e.Backend)
}

func (e *NotFoundError) Is(target error) bool {
	return errors.Is(target, ErrNotFound)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(backend BackendType, collection, id string) *NotFoundError {
	return &NotFoundError{Backend: backend, Collection: collection, ID: id}
}

// UnsupportedOperatorError is returned when a filter operator cannot be
// translated to the backend's native query language.
type UnsupportedOperatorError struct {
	Backend  BackendType
	Operator Operator
}

func (e *UnsupportedOperatorError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("unsupported filter operator %q", e.Operator)
	}
	return fmt.Sprintf("%s cannot translate filter operator %q", e.Backend, e.Operator)
}

func (e *UnsupportedOperatorError) Is(target error) bool {
	return errors.Is(target, ErrUnsupportedOperator)
}

// NewUnsupportedOperatorError creates an UnsupportedOperatorError.
func NewUnsupportedOperatorError(backend BackendType, op Operator) *UnsupportedOperatorError {
	return &UnsupportedOperatorError{Backend: backend, Operator: op}
}

// UnsupportedOperationError is returned when a backend does not implement an
// operation of the contract. The subscribe asymmetry between the two engines
// is the canonical case.
type UnsupportedOperationError struct {
	Backend   BackendType
	Operation string
	Reason    string
}

func (e *UnsupportedOperationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s does not support %s: %s", e.Backend, e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s does not support %s", e.Backend, e.Operation)
}

func (e *UnsupportedOperationError) Is(target error) bool {
	return errors.Is(target, ErrOperationNotSupported)
}

// NewUnsupportedOperationError creates an UnsupportedOperationError.
func NewUnsupportedOperationError(backend BackendType, operation, reason string) *UnsupportedOperationError {
	return &UnsupportedOperationError{Backend: backend, Operation: operation, Reason: reason}
}

// IsNotFound reports whether err indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConnectionError reports whether err indicates an unreachable backend.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsUnsupported reports whether err indicates an unsupported operation.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrOperationNotSupported)
}
