package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"batchrest/internal/batcher"
	"batchrest/internal/cache"
	"batchrest/internal/jsoncodec"
	"batchrest/internal/transport"
)

// Soft-delete filter applied to every query
const (
	DeletedOnKey = "deleted_on"
	NullValue    = "_-NULL-_"
	DisableValue = "_-DISABLE-_"
)

var (
	camelBoundary = regexp.MustCompile(`([a-z\d])([A-Z])`)
	separators    = regexp.MustCompile(`[\s_]+`)
)

// APIError is a response the backend marked as failed
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    json.RawMessage
	Err     error
}

// Error implements the error interface
func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error: status %d", e.Status)
	if e.Code != "" {
		msg += " code " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap returns the underlying error kind
func (e *APIError) Unwrap() error {
	return e.Err
}

// responseEnvelope is the backend's {"success":...} wrapper
type responseEnvelope struct {
	Success    *bool           `json:"success"`
	Result     json.RawMessage `json:"result"`
	Code       interface{}     `json:"code"`
	Message    interface{}     `json:"message"`
	StatusCode interface{}     `json:"statusCode"`
	Debug      *struct {
		Errors interface{} `json:"errors"`
	} `json:"debug"`
}

// PathForType turns a model name into its URL segment: "blogPost" and
// "blog_post" both become "blog-post".
func PathForType(model string) string {
	s := camelBoundary.ReplaceAllString(model, "${1}-${2}")
	s = separators.ReplaceAllString(s, "-")
	return strings.ToLower(s)
}

// Find loads one record
func (a *Adapter) Find(ctx context.Context, model, id string) (json.RawMessage, error) {
	return a.do(ctx, model, http.MethodGet, recordPath(model, id), nil)
}

// FindAll loads every record of a model
func (a *Adapter) FindAll(ctx context.Context, model string) (json.RawMessage, error) {
	return a.do(ctx, model, http.MethodGet, PathForType(model), nil)
}

// Query loads the records matching query. Soft-deleted records are
// excluded unless the query sets deleted_on to DisableValue.
func (a *Adapter) Query(ctx context.Context, model string, query map[string]interface{}) (json.RawMessage, error) {
	return a.do(ctx, model, http.MethodGet, PathForType(model), defaultQuery(query))
}

// Create posts a new record
func (a *Adapter) Create(ctx context.Context, model string, record interface{}) (json.RawMessage, error) {
	return a.do(ctx, model, http.MethodPost, PathForType(model), record)
}

// Update patches an existing record
func (a *Adapter) Update(ctx context.Context, model, id string, record interface{}) (json.RawMessage, error) {
	return a.do(ctx, model, http.MethodPatch, recordPath(model, id), record)
}

// Delete removes a record
func (a *Adapter) Delete(ctx context.Context, model, id string) (json.RawMessage, error) {
	return a.do(ctx, model, http.MethodDelete, recordPath(model, id), nil)
}

// Request routes call through the batching transport. GET results are
// served from the cache when enabled; a successful mutation purges it.
func (a *Adapter) Request(ctx context.Context, call batcher.Call) (*batcher.Result, error) {
	var key string
	if cache.IsCacheable(call.Method) && !call.DisableBatch {
		if sum, err := batcher.Checksum(call.URL, call.Method, call.Data); err == nil {
			key = sum
			if resp, ok := a.cache.Get(key); ok {
				a.metrics.RecordCacheHit(a.name)
				return &batcher.Result{Response: resp.Clone()}, nil
			}
		}
	}

	res, err := a.batching.Do(ctx, call)
	if err != nil {
		return res, err
	}

	if key != "" {
		if res.Response != nil && cacheablePayload(res.Response.Body) {
			a.cache.Set(key, res.Response.Clone())
		}
	} else if cache.IsMutation(call.Method) {
		a.cache.Purge()
	}
	return res, nil
}

func (a *Adapter) do(ctx context.Context, model, method, path string, data interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := jsoncodec.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", model, err)
		}
		raw = b
	}

	res, err := a.Request(ctx, batcher.Call{
		URL:       a.ResolveURL(path),
		Method:    method,
		Data:      raw,
		ModelName: model,
	})
	return a.decode(res, err)
}

// decode applies the backend's response conventions to a call result
func (a *Adapter) decode(res *batcher.Result, callErr error) (json.RawMessage, error) {
	if res == nil || res.Response == nil {
		if callErr == nil {
			callErr = transport.ErrTransport
		}
		return nil, callErr
	}
	return a.handleResponse(res.Response.StatusCode, res.Response.Body, callErr)
}

// handleResponse unwraps {"result":...} replies, treats an embedded
// statusCode 401 like an HTTP 401 and turns {"success":false} into an
// APIError.
func (a *Adapter) handleResponse(status int, body []byte, callErr error) (json.RawMessage, error) {
	payload := json.RawMessage(bytes.TrimSpace(body))
	env, isEnvelope := parseEnvelope(payload)
	if isEnvelope && env.Success == nil && len(env.Result) > 0 {
		payload = env.Result
		env, isEnvelope = parseEnvelope(payload)
	}

	if status != http.StatusUnauthorized && isEnvelope && numberIs(env.StatusCode, http.StatusUnauthorized) {
		a.session.InvalidateSession()
		a.metrics.RecordSessionInvalidated(a.name)
		return nil, &APIError{Status: http.StatusUnauthorized, Message: "Not Authorized", Body: payload, Err: transport.ErrUnauthorized}
	}

	failed := callErr != nil || (isEnvelope && env.Success != nil && !*env.Success)
	if !failed {
		if len(payload) == 0 {
			return nil, nil
		}
		return payload, nil
	}

	apiErr := &APIError{Status: status, Body: payload, Err: callErr}
	if apiErr.Err == nil {
		apiErr.Err = transport.ErrStatus
	}
	if status == 0 {
		apiErr.Message = "Call Aborted"
	}
	if isEnvelope {
		apiErr.Code = a.errorCode(env)
		if env.Message != nil {
			apiErr.Message = fmt.Sprint(env.Message)
		}
	}
	if status == http.StatusUnauthorized && apiErr.Message == "" {
		apiErr.Message = "Not Authorized"
	}
	return nil, apiErr
}

// errorCode reads debug.errors in debug mode, code otherwise
func (a *Adapter) errorCode(env *responseEnvelope) string {
	if a.debug && env.Debug != nil && env.Debug.Errors != nil {
		if b, err := jsoncodec.Marshal(env.Debug.Errors); err == nil {
			return string(b)
		}
	}
	if env.Code == nil {
		return ""
	}
	return fmt.Sprint(env.Code)
}

func parseEnvelope(payload json.RawMessage) (*responseEnvelope, bool) {
	if !jsoncodec.IsObject(payload) {
		return nil, false
	}
	var env responseEnvelope
	if err := jsoncodec.Unmarshal(payload, &env); err != nil {
		return nil, false
	}
	return &env, true
}

// cacheablePayload rejects bodies that report success:false, directly or
// inside a result wrapper
func cacheablePayload(body []byte) bool {
	env, ok := parseEnvelope(json.RawMessage(bytes.TrimSpace(body)))
	if ok && env.Success == nil && len(env.Result) > 0 {
		env, ok = parseEnvelope(env.Result)
	}
	return !ok || env.Success == nil || *env.Success
}

func numberIs(v interface{}, n int) bool {
	switch t := v.(type) {
	case float64:
		return t == float64(n)
	case string:
		return t == fmt.Sprint(n)
	}
	return false
}

func recordPath(model, id string) string {
	return PathForType(model) + "/" + url.PathEscape(id)
}

// defaultQuery copies query and applies the soft-delete filter
func defaultQuery(query map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(query)+1)
	for k, v := range query {
		out[k] = v
	}
	v, ok := out[DeletedOnKey]
	switch {
	case !ok:
		out[DeletedOnKey] = NullValue
	case v == DisableValue:
		delete(out, DeletedOnKey)
	}
	return out
}

// IsAPIError reports whether err carries a backend failure response
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
