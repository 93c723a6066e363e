package store

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates the store cannot be used because a required
// setting (usually the connection string) is missing.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not set", e.Setting)
}

// ConnectionError indicates the store connection could not be established.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StorageError indicates an operation failed against an established connection.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NotFoundError indicates the resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// WrapStorage wraps err in a StorageError for op. It returns nil for a nil
// error and leaves connection and configuration errors untouched so callers
// can still tell them apart.
func WrapStorage(op string, err error) error {
	switch err.(type) {
	case nil:
		return nil
	case *StorageError, *ConnectionError, *ConfigurationError:
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Kind names the error category for logs: "configuration", "connection",
// "storage", "not_found", "validation" or "unknown".
func Kind(err error) string {
	var cfgErr *ConfigurationError
	var connErr *ConnectionError
	var storageErr *StorageError
	var notFound *NotFoundError
	var validation *ValidationError
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &storageErr):
		return "storage"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &validation):
		return "validation"
	}
	return "unknown"
}
