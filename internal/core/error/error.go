package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage is used when a key does not exist.
	RedisNotFoundMessage = "redis key not found"
	// StorageErrorMessage describes artifact store failures.
	StorageErrorMessage = "artifact storage operation failed"
	// StorageNotFoundMessage is used when an artifact does not exist.
	StorageNotFoundMessage = "artifact not found"
	// WarehouseErrorMessage describes query engine outages.
	WarehouseErrorMessage = "data warehouse is unavailable"
	// ModelErrorMessage describes language model failures.
	ModelErrorMessage = "language model call failed"
	// InvalidInputMessage is returned for requests that cannot be processed.
	InvalidInputMessage = "invalid request"
)

// AppError pairs an internal error with the status and the message that is
// safe to show the person asking.
type AppError struct {
	Err     error
	Status  int
	Message string
}

func (e *AppError) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

func New(err error, status int, message string) *AppError {
	return &AppError{Err: err, Status: status, Message: message}
}

// InvalidInput reports a request that the agent refuses to process.
func InvalidInput(format string, args ...any) *AppError {
	return New(fmt.Errorf(format, args...), http.StatusBadRequest, InvalidInputMessage)
}

// UserMessage is the outermost safe message in err's chain, or
// SystemErrorMessage when there is none.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if app := find(err); app != nil && app.Message != "" {
		return app.Message
	}
	return SystemErrorMessage
}

// StatusOf is the status carried by err, 500 when none is set.
func StatusOf(err error) int {
	if app := find(err); app != nil && app.Status != 0 {
		return app.Status
	}
	return http.StatusInternalServerError
}

func find(err error) *AppError {
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	return nil
}
