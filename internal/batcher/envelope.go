package batcher

import (
	"encoding/json"
	"strconv"

	"batchrest/internal/jsonrpc"
)

// ParamsFunc returns extra params merged into an entry, such as a version
// or debug flag. It runs once per unique entry.
type ParamsFunc func(entry *BatchEntry) map[string]interface{}

// BatchEntry is one deduplicated sub-request of an envelope
type BatchEntry struct {
	Key      string
	URL      string
	Method   string
	Data     json.RawMessage
	Params   map[string]interface{}
	Checksum string
}

// Envelope is the unit of work for one flush cycle
type Envelope struct {
	Entries []*BatchEntry             // first-occurrence order
	Fanout  map[string][]*PendingCall // checksum -> calls in enqueue order
}

// Rejected is a call that could not be placed in an envelope
type Rejected struct {
	Call *PendingCall
	Err  error
}

// BuildEnvelope deduplicates calls by checksum and assigns keys of the form
// {modelName-or-path}-{counter}, the counter starting at 1 and advancing
// once per unique entry. Calls that fail to normalize are returned as
// rejected and take no key.
func BuildEnvelope(calls []*PendingCall, params ParamsFunc) (*Envelope, []Rejected) {
	env := &Envelope{
		Entries: make([]*BatchEntry, 0, len(calls)),
		Fanout:  make(map[string][]*PendingCall, len(calls)),
	}
	var rejected []Rejected

	counter := 1
	for _, p := range calls {
		n, err := normalize(p.Call.URL, p.Call.Method, p.Call.Data)
		if err != nil {
			rejected = append(rejected, Rejected{Call: p, Err: err})
			continue
		}

		sum := n.checksum()
		if _, seen := env.Fanout[sum]; !seen {
			entry := &BatchEntry{
				Key:      entryName(p.Call, n) + "-" + strconv.Itoa(counter),
				URL:      n.Path,
				Method:   n.Method,
				Data:     n.Data,
				Checksum: sum,
			}
			if params != nil {
				entry.Params = params(entry)
			}
			env.Entries = append(env.Entries, entry)
			counter++
		}
		env.Fanout[sum] = append(env.Fanout[sum], p)
	}

	return env, rejected
}

func entryName(call Call, n *normalizedCall) string {
	if call.ModelName != "" {
		return call.ModelName
	}
	if n.Path != "" {
		return n.Path
	}
	return "request"
}

// Size returns the number of calls carried by the envelope
func (e *Envelope) Size() int {
	size := 0
	for _, calls := range e.Fanout {
		size += len(calls)
	}
	return size
}

// Calls returns every call in entry order, then enqueue order
func (e *Envelope) Calls() []*PendingCall {
	out := make([]*PendingCall, 0, e.Size())
	for _, entry := range e.Entries {
		out = append(out, e.Fanout[entry.Checksum]...)
	}
	return out
}

// Request renders the envelope in wire form
func (e *Envelope) Request() *jsonrpc.BatchEnvelope {
	requests := make(map[string]*jsonrpc.BatchRequest, len(e.Entries))
	for _, entry := range e.Entries {
		requests[entry.Key] = &jsonrpc.BatchRequest{
			URL:    entry.URL,
			Method: entry.Method,
			Data:   entry.Data,
			Extra:  entry.Params,
		}
	}
	return jsonrpc.NewBatchEnvelope(requests)
}
