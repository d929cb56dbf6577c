package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"batchrest/internal/jsoncodec"
)

// MethodBatchREST is the RPC method that carries coalesced REST calls.
const MethodBatchREST = "batch-rest"

// ErrMalformedReply is returned when a batch reply cannot be decoded.
var ErrMalformedReply = errors.New("malformed batch reply")

// BatchEnvelope is the body posted to the batch endpoint:
//
//	{"method":"batch-rest","params":{"requests":{...}},"id":1,"jsonrpc":"2.0"}
type BatchEnvelope struct {
	Method  string      `json:"method"`
	Params  BatchParams `json:"params"`
	ID      ID          `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
}

// BatchParams holds the keyed sub-requests of one envelope
type BatchParams struct {
	Requests map[string]*BatchRequest `json:"requests"`
}

// BatchRequest is a single sub-request inside an envelope.
// Extra carries per-entry params such as _version and _debug.
type BatchRequest struct {
	URL    string
	Method string
	Data   json.RawMessage
	Extra  map[string]interface{}
}

// NewBatchEnvelope creates an envelope with the fixed id the backend expects
func NewBatchEnvelope(requests map[string]*BatchRequest) *BatchEnvelope {
	if requests == nil {
		requests = make(map[string]*BatchRequest)
	}
	return &BatchEnvelope{
		Method:  MethodBatchREST,
		Params:  BatchParams{Requests: requests},
		ID:      NewIDInt(1),
		JSONRPC: Version,
	}
}

// Bytes returns the envelope as JSON bytes
func (e *BatchEnvelope) Bytes() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// MarshalJSON flattens Extra next to url, method and data.
func (r *BatchRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["url"] = r.URL
	out["method"] = r.Method
	if len(r.Data) > 0 {
		out["data"] = r.Data
	}
	return jsoncodec.Marshal(out)
}

// UnmarshalJSON splits known fields from extra params.
func (r *BatchRequest) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(data, &fields); err != nil {
		return err
	}
	r.Extra = nil
	for k, v := range fields {
		switch k {
		case "url":
			if err := jsoncodec.Unmarshal(v, &r.URL); err != nil {
				return fmt.Errorf("url: %w", err)
			}
		case "method":
			if err := jsoncodec.Unmarshal(v, &r.Method); err != nil {
				return fmt.Errorf("method: %w", err)
			}
		case "data":
			r.Data = append(json.RawMessage(nil), v...)
		default:
			var val interface{}
			if err := jsoncodec.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			if r.Extra == nil {
				r.Extra = make(map[string]interface{})
			}
			r.Extra[k] = val
		}
	}
	return nil
}

// BatchReply is the backend's answer to an envelope
type BatchReply struct {
	Success bool            `json:"success"`
	Data    *BatchReplyData `json:"data,omitempty"`
}

// BatchReplyData holds the keyed per-entry results
type BatchReplyData struct {
	Results map[string]*BatchResult `json:"results"`
}

// Results returns the keyed results, or nil when the reply carries none
func (r *BatchReply) Results() map[string]*BatchResult {
	if r == nil || r.Data == nil {
		return nil
	}
	return r.Data.Results
}

// ParseBatchReply decodes a batch reply. Replies wrapped in a JSON-RPC
// response ({"result":{...}}) are unwrapped; a JSON-RPC error is returned as
// *Error.
func ParseBatchReply(data []byte) (*BatchReply, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, ErrMalformedReply
	}

	var probe struct {
		Success *bool           `json:"success"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
	}
	if err := jsoncodec.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	if probe.Success == nil {
		if probe.Error != nil {
			return nil, probe.Error
		}
		if len(probe.Result) == 0 {
			return nil, ErrMalformedReply
		}
		return ParseBatchReply(probe.Result)
	}

	var reply BatchReply
	if err := jsoncodec.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return &reply, nil
}

// BatchResult is one entry's slice of a batch reply. Status and StatusText
// are lifted out of the object; everything else stays in Payload.
type BatchResult struct {
	Status     int
	StatusText string
	Payload    json.RawMessage
}

// UnmarshalJSON splits status fields from the payload. The payload is
// re-encoded canonically, so equal results always carry equal bytes.
func (r *BatchResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := jsoncodec.Unmarshal(data, &fields); err != nil {
		return err
	}

	if raw, ok := fields["status"]; ok {
		status, err := parseStatus(raw)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		r.Status = status
		delete(fields, "status")
	}
	if raw, ok := fields["statusText"]; ok {
		if err := jsoncodec.Unmarshal(raw, &r.StatusText); err != nil {
			return fmt.Errorf("statusText: %w", err)
		}
		delete(fields, "statusText")
	}

	payload, err := jsoncodec.CanonicalValue(fields)
	if err != nil {
		return err
	}
	r.Payload = payload
	return nil
}

// MarshalJSON folds status fields back into the payload object
func (r *BatchResult) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(r.Payload) > 0 {
		if err := jsoncodec.Unmarshal(r.Payload, &fields); err != nil {
			return nil, fmt.Errorf("payload must be an object: %w", err)
		}
	}
	status, _ := jsoncodec.Marshal(r.Status)
	fields["status"] = status
	if r.StatusText != "" {
		text, _ := jsoncodec.Marshal(r.StatusText)
		fields["statusText"] = text
	}
	return jsoncodec.Marshal(fields)
}

// parseStatus accepts numeric and string status codes
func parseStatus(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := jsoncodec.Unmarshal(raw, &n); err == nil {
		v, err := n.Int64()
		if err != nil {
			return 0, err
		}
		return int(v), nil
	}
	var s string
	if err := jsoncodec.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}
