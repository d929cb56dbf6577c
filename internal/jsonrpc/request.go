package jsonrpc

import (
	"encoding/json"
	"fmt"

	"batchrest/internal/jsoncodec"
)

// Request represents a JSON-RPC request
type Request struct {
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
}

// Validate checks if the request is valid
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("invalid jsonrpc version: %s", r.JSONRPC)
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// NewRequest creates a new JSON-RPC request. A nil params value is sent as an
// empty object, which is what the backend's RPC clients expect.
func NewRequest(method string, params interface{}, id ID) (*Request, error) {
	req := &Request{
		JSONRPC: Version,
		Method:  method,
		ID:      id,
	}

	if params == nil {
		req.Params = json.RawMessage(`{}`)
		return req, nil
	}

	paramsBytes, err := jsoncodec.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	req.Params = paramsBytes

	return req, nil
}

// ParseRequest parses a single JSON-RPC request from bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := jsoncodec.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return jsoncodec.Marshal(r)
}
