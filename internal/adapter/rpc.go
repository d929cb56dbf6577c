package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"batchrest/internal/batcher"
	"batchrest/internal/jsoncodec"
	"batchrest/internal/jsonrpc"
	"batchrest/internal/transport"
)

// ErrRPCFailed is returned when an RPC reply is not marked successful
var ErrRPCFailed = errors.New("rpc call failed")

// RPCError describes a failed RPC call
type RPCError struct {
	Method  string
	Code    int
	Message string
	Result  json.RawMessage
}

// Error implements the error interface
func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rpc %s failed (%d): %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("rpc %s failed", e.Method)
}

// Unwrap returns ErrRPCFailed
func (e *RPCError) Unwrap() error {
	return ErrRPCFailed
}

// RPC calls method on the backend's RPC client endpoint. RPC calls are
// never batched. The reply's result is returned when it reports success.
func (a *Adapter) RPC(ctx context.Context, client, method string, params interface{}) (json.RawMessage, error) {
	req, err := jsonrpc.NewRequest(method, params, jsonrpc.NewIDInt(1))
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := req.Bytes()
	if err != nil {
		return nil, err
	}

	res, err := a.Request(ctx, batcher.Call{
		URL:          a.ResolveURL(client),
		Method:       http.MethodPost,
		Data:         body,
		DisableBatch: true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Response == nil {
		return nil, transport.ErrTransport
	}

	rpcResp, err := jsonrpc.ParseResponse(res.Response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rpc response: %w", err)
	}
	if rpcResp.HasError() {
		return nil, &RPCError{Method: method, Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	var status struct {
		Success *bool       `json:"success"`
		Code    int         `json:"code"`
		Message interface{} `json:"message"`
	}
	if jsoncodec.IsObject(rpcResp.Result) {
		_ = rpcResp.GetResultAs(&status)
	}
	if status.Success == nil || !*status.Success {
		rpcErr := &RPCError{Method: method, Code: status.Code, Result: rpcResp.Result}
		if status.Message != nil {
			rpcErr.Message = fmt.Sprint(status.Message)
		}
		return nil, rpcErr
	}
	return rpcResp.Result, nil
}

// RPCQuery calls method and returns the records under result.data. A
// single object is returned as a one-element list.
func (a *Adapter) RPCQuery(ctx context.Context, client, method string, params interface{}) ([]json.RawMessage, error) {
	result, err := a.RPC(ctx, client, method, params)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := jsoncodec.Unmarshal(result, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse rpc result: %w", err)
	}
	data := bytes.TrimSpace(wrapper.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []json.RawMessage{}, nil
	}
	if data[0] != '[' {
		return []json.RawMessage{data}, nil
	}
	var records []json.RawMessage
	if err := jsoncodec.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse rpc records: %w", err)
	}
	return records, nil
}
