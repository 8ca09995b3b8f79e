package errx

import (
	"errors"
	"net/http"
)

// ErrNotFound is the sentinel wrapped by store lookups that miss.
var ErrNotFound = errors.New("not found")

type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient marks err as an infrastructure failure worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or anything it wraps, was marked transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// IsNotFound reports lookups that missed in any of the stores.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || StatusOf(err) == http.StatusNotFound
}

// WrapWarehouse maps a connectivity failure of the query engine.
func WrapWarehouse(err error) error {
	if err == nil {
		return nil
	}
	return Transient(New(err, http.StatusServiceUnavailable, WarehouseErrorMessage))
}

// WrapModel maps a language model failure, retaining its retry classification.
func WrapModel(err error, transient bool) error {
	if err == nil {
		return nil
	}
	wrapped := New(err, http.StatusBadGateway, ModelErrorMessage)
	if transient {
		return Transient(wrapped)
	}
	return wrapped
}
