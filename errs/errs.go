// Package errs defines the error taxonomy shared by the library services.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds callers branch on.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrDeliveryFault    = errors.New("event delivery failed")
	ErrTransientStorage = errors.New("transient storage failure")
)

// NotFoundError reports that a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound creates a NotFoundError for the given entity kind and id.
func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// ConflictError reports that an operation is incompatible with the current state.
type ConflictError struct {
	Msg string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
func (e *ConflictError) Unwrap() error        { return e.Err }

// Conflict creates a ConflictError with a formatted message.
func Conflict(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// DeliveryFault reports that a fact could not be handed to the transport
// after the retry budget was spent. The local state change stands.
type DeliveryFault struct {
	EventID   string
	EventType string
	Err       error
}

func (e *DeliveryFault) Error() string {
	return fmt.Sprintf("failed to deliver event %s (%s): %v", e.EventID, e.EventType, e.Err)
}

func (e *DeliveryFault) Is(target error) bool { return target == ErrDeliveryFault }
func (e *DeliveryFault) Unwrap() error        { return e.Err }

// TransientStorageError reports a storage failure worth retrying.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Is(target error) bool { return target == ErrTransientStorage }
func (e *TransientStorageError) Unwrap() error        { return e.Err }

// Transient wraps err as a TransientStorageError.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientStorageError{Op: op, Err: err}
}

// IsPermanent reports whether retrying the operation cannot change its outcome.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
}
