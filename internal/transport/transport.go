// Package transport sends single HTTP calls to the backend and defines the
// response and error types every other layer hands back to callers.
package transport

import (
	"context"
	"net/http"
)

// Request is one outbound HTTP call
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// Response is a received or synthesized HTTP response
type Response struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       []byte
}

// Transport sends a request and returns whatever status the backend answered.
// An error means no response was received at all.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to the Transport interface
type Func func(ctx context.Context, req *Request) (*Response, error)

// Send calls f
func (f Func) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HeaderProvider supplies headers added to every outbound request
type HeaderProvider interface {
	Headers() http.Header
}

// IsSuccessStatus reports whether status is 2xx or 304
func IsSuccessStatus(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusNotModified
}

// IsSuccess reports whether the response status is 2xx or 304
func (r *Response) IsSuccess() bool {
	return r != nil && IsSuccessStatus(r.StatusCode)
}

// Clone returns a deep copy so fanned-out callers never share buffers
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	clone := &Response{
		StatusCode: r.StatusCode,
		StatusText: r.StatusText,
		Header:     r.Header.Clone(),
	}
	if r.Body != nil {
		clone.Body = make([]byte, len(r.Body))
		copy(clone.Body, r.Body)
	}
	return clone
}

// Text returns the status text, falling back to the standard one
func (r *Response) Text() string {
	if r.StatusText != "" {
		return r.StatusText
	}
	return http.StatusText(r.StatusCode)
}
