package batcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"batchrest/internal/jsoncodec"
	"batchrest/internal/transport"
)

// directRequest turns a call into a plain HTTP request. Object data goes
// into the query string for GET, DELETE and HEAD, and into the body
// otherwise.
func directRequest(call Call) (*transport.Request, error) {
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
	}
	req := &transport.Request{
		URL:    call.URL,
		Method: method,
		Header: call.Header.Clone(),
	}

	// trimmed only for inspection; bodies are sent as given
	data := bytes.TrimSpace(call.Data)
	if len(data) == 0 {
		return req, nil
	}

	switch method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		if !jsoncodec.IsObject(data) {
			return nil, fmt.Errorf("%w: %s data must be an object", ErrInvalidCall, method)
		}
		u, err := url.Parse(call.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: url: %v", ErrInvalidCall, err)
		}
		var fields map[string]json.RawMessage
		if err := jsoncodec.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrInvalidCall, err)
		}
		query := u.Query()
		for key, raw := range fields {
			// keys already on the URL win, as they do for batched calls
			if _, ok := query[key]; ok {
				continue
			}
			query.Set(key, queryValue(raw))
		}
		u.RawQuery = query.Encode()
		req.URL = u.String()
	default:
		req.Body = call.Data
	}
	return req, nil
}

// queryValue renders a JSON value for a query string; strings lose their quotes
func queryValue(raw json.RawMessage) string {
	var s string
	if err := jsoncodec.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
