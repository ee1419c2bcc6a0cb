package manager

import (
	"errors"
	"net/http"
)

// ErrEntryNotFound means the configured store entry does not exist.
var ErrEntryNotFound = errors.New("model entry not found")

// ErrModelNotFound returns an error when a requested model id is not served.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func (e modelNotFoundError) StatusCode() int { return http.StatusNotFound }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals that the engine (or the manager itself)
// cannot serve right now, so the HTTP layer can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

func (e dependencyUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// badRequestError flags caller mistakes, mapped to 400.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func (e badRequestError) StatusCode() int { return http.StatusBadRequest }

// ErrBadRequest constructs a badRequestError.
func ErrBadRequest(msg string) error { return badRequestError{msg: msg} }

// IsBadRequest reports whether err is a caller mistake.
func IsBadRequest(err error) bool {
	var e badRequestError
	return errors.As(err, &e)
}
