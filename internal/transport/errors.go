package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced to callers
var (
	ErrTransport     = errors.New("transport failure")
	ErrRateLimited   = errors.New("rate limited")
	ErrTransientLock = errors.New("transient lock")
	ErrUnauthorized  = errors.New("not authorized")
	ErrAborted       = errors.New("call aborted")
	ErrStatus        = errors.New("backend responded with an error")
	ErrCircuitOpen   = errors.New("circuit breaker open")
)

// StatusError wraps a response whose status is neither 2xx nor 304
type StatusError struct {
	Response *Response
	Kind     error
}

// NewStatusError classifies resp by status code
func NewStatusError(resp *Response) *StatusError {
	kind := ErrStatus
	switch resp.StatusCode {
	case 0:
		kind = ErrAborted
	case http.StatusUnauthorized:
		kind = ErrUnauthorized
	case http.StatusTooManyRequests:
		kind = ErrRateLimited
	}
	return &StatusError{Response: resp, Kind: kind}
}

// WithKind returns a copy of the error carrying a different kind
func (e *StatusError) WithKind(kind error) *StatusError {
	return &StatusError{Response: e.Response, Kind: kind}
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d %s", e.Kind, e.Response.StatusCode, e.Response.Text())
}

// Unwrap returns the error kind
func (e *StatusError) Unwrap() error {
	return e.Kind
}

// Status returns the response status code
func (e *StatusError) Status() int {
	return e.Response.StatusCode
}
