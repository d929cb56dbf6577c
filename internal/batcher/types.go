package batcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"batchrest/internal/transport"
)

// MaxBatchSize is the largest envelope the backend accepts
const MaxBatchSize = 40

// Defaults used when the configuration leaves them unset
const (
	DefaultMaxBatchSize = 10
	DefaultMaxBatchWait = 5 * time.Millisecond
)

var (
	// ErrBatchFailed is returned to every call of a cycle whose envelope failed
	ErrBatchFailed = errors.New("batch request failed")
	// ErrMissingResult is returned when the reply has no result for a key
	ErrMissingResult = errors.New("missing result for batch entry")
	// ErrClosed is returned for calls added after Close
	ErrClosed = errors.New("batching transport closed")
	// ErrInvalidCall is returned for calls that cannot be normalized
	ErrInvalidCall = errors.New("invalid call")
)

// Call is one caller's HTTP intent
type Call struct {
	URL          string          // absolute target URL
	Method       string          // HTTP method, GET when empty
	Data         json.RawMessage // body, or query object for GET/DELETE/HEAD
	Header       http.Header     // extra headers, honoured on the direct path only
	ModelName    string          // optional entry key prefix
	DisableBatch bool            // send on its own, never coalesced
}

// Result is what a call resolves to. Err is nil iff Response carries a
// 2xx or 304 status.
type Result struct {
	Response *transport.Response
	Err      error
}

// PendingCall is a queued Call and its result channel
type PendingCall struct {
	Call       Call
	ResultChan chan *Result // buffered, receives exactly one Result
	EnqueuedAt time.Time
	delivered  atomic.Bool
}

// NewPendingCall creates a pending call with a buffered result channel
func NewPendingCall(call Call) *PendingCall {
	return &PendingCall{
		Call:       call,
		ResultChan: make(chan *Result, 1),
		EnqueuedAt: time.Now(),
	}
}

// deliver sends res unless a result was already delivered
func (p *PendingCall) deliver(res *Result) bool {
	if !p.delivered.CompareAndSwap(false, true) {
		return false
	}
	p.ResultChan <- res
	return true
}

// fail delivers an error result
func (p *PendingCall) fail(err error) bool {
	return p.deliver(&Result{Err: err})
}

// BatchingTransport queues calls and resolves each one exactly once
type BatchingTransport interface {
	Add(ctx context.Context, call Call) <-chan *Result
	Flush()
	Close(ctx context.Context) error
}

// newResult builds a Result from a response, deriving Err from its status
func newResult(resp *transport.Response) *Result {
	if resp.IsSuccess() {
		return &Result{Response: resp}
	}
	return &Result{Response: resp, Err: transport.NewStatusError(resp)}
}
