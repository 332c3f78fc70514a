package api

import (
	"fmt"
	"net/http"
)

// ErrorKind separates transport failures from HTTP and decoding failures.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindHTTP    ErrorKind = "http"
	KindDecode  ErrorKind = "decode"
	KindRequest ErrorKind = "request"
)

// Error is the only failure type the client hands to callers. Message is
// meant to be shown to a user as is.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unauthorized reports a 401 response, after which callers redirect to
// login.
func (e *Error) Unauthorized() bool {
	return e != nil && e.Status == http.StatusUnauthorized
}

// NotFound reports a 404 response.
func (e *Error) NotFound() bool {
	return e != nil && e.Status == http.StatusNotFound
}

// Result carries either a value or an *Error; callers branch on OK instead
// of on a returned error.
type Result[T any] struct {
	Value T
	Err   *Error
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Fail[T any](err *Error) Result[T] {
	return Result[T]{Err: err}
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Unpack converts the result to the usual (value, error) pair without the
// typed-nil pitfall.
func (r Result[T]) Unpack() (T, error) {
	if r.Err == nil {
		return r.Value, nil
	}
	return r.Value, r.Err
}
