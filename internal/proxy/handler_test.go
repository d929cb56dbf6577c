package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchrest/internal/adapter"
	"batchrest/internal/batcher"
	"batchrest/internal/config"
	"batchrest/internal/jsoncodec"
	"batchrest/internal/jsonrpc"
	"batchrest/internal/transport"
)

func newTestHandler(backends ...Backend) *Handler {
	r := NewRouter()
	for _, b := range backends {
		r.AddBackend(b)
	}
	return NewHandler(r, &config.Config{MaxBodySize: 64}, zerolog.Nop())
}

func decodeError(t *testing.T, body io.Reader) string {
	var out map[string]string
	require.NoError(t, jsoncodec.Decode(body, &out))
	return out["error"]
}

func TestHandler_ForwardsCall(t *testing.T) {
	b := &fakeBackend{name: "main"}
	h := newTestHandler(b)

	req := httptest.NewRequest(http.MethodPost, "/main/post?draft=1", strings.NewReader(`{"title":"x"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	call := b.lastCall(t)
	assert.Equal(t, "http://api.test/post?draft=1", call.URL)
	assert.Equal(t, http.MethodPost, call.Method)
	assert.JSONEq(t, `{"title":"x"}`, string(call.Data))
	assert.False(t, call.DisableBatch)
	assert.Nil(t, call.Header)
}

func TestHandler_DisableBatch(t *testing.T) {
	b := &fakeBackend{name: "main"}
	h := newTestHandler(b)

	req := httptest.NewRequest(http.MethodPost, "/main/upload", strings.NewReader("--x--"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	h.ServeHTTP(httptest.NewRecorder(), req)
	call := b.lastCall(t)
	assert.True(t, call.DisableBatch)
	assert.Equal(t, "multipart/form-data; boundary=x", call.Header.Get("Content-Type"))

	req = httptest.NewRequest(http.MethodGet, "/main/report", nil)
	req.Header.Set(DisableBatchHeader, "true")
	h.ServeHTTP(httptest.NewRecorder(), req)
	call = b.lastCall(t)
	assert.True(t, call.DisableBatch)
	assert.Nil(t, call.Data)
}

func TestHandler_StatusPassthrough(t *testing.T) {
	resp := &transport.Response{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{"Content-Length": []string{"999"}, "X-Batch-Cycle": []string{"c1"}},
		Body:       []byte(`{"success":false}`),
	}
	b := &fakeBackend{name: "main", res: &batcher.Result{Response: resp, Err: transport.NewStatusError(resp)}, err: transport.NewStatusError(resp)}
	h := newTestHandler(b)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/main/post/1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "c1", rec.Header().Get("X-Batch-Cycle"))
	assert.Empty(t, rec.Header().Get("Content-Length"))
	assert.JSONEq(t, `{"success":false}`, rec.Body.String())
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"batch failed", fmt.Errorf("%w: %w", batcher.ErrBatchFailed, transport.ErrTransport), http.StatusBadGateway},
		{"invalid call", fmt.Errorf("%w: data", batcher.ErrInvalidCall), http.StatusBadRequest},
		{"closed", batcher.ErrClosed, http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeBackend{name: "main", err: tt.err})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/main/post", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.err.Error(), decodeError(t, rec.Body))
		})
	}
}

func TestHandler_UnknownBackend(t *testing.T) {
	h := newTestHandler(&fakeBackend{name: "main"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other/post", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeError(t, rec.Body), "not found")
}

func TestHandler_BodyTooLarge(t *testing.T) {
	b := &fakeBackend{name: "main"}
	h := newTestHandler(b)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/main/post", strings.NewReader(strings.Repeat("x", 65))))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, b.calls)
}

// TestHandler_CoalescesThroughAdapter drives concurrent gateway requests
// through a real adapter and checks they reach the backend as one envelope
func TestHandler_CoalescesThroughAdapter(t *testing.T) {
	var batches atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env jsonrpc.BatchEnvelope
		if r.URL.Path != "/batch" || jsoncodec.Decode(r.Body, &env) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		batches.Add(1)
		results := make(map[string]interface{})
		for key, req := range env.Params.Requests {
			results[key] = map[string]interface{}{"status": 200, "url": req.URL}
		}
		_ = jsoncodec.Encode(w, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"results": results},
		})
	}))
	defer backend.Close()

	a, err := adapter.New(adapter.Config{
		Backend: config.BackendConfig{
			Name:     "main",
			URL:      backend.URL,
			Batching: config.BatchingConfig{MaxSize: 4, MaxWait: 60000},
		},
		RequestTimeout: 5 * time.Second,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	defer a.Close(context.Background())

	gateway := httptest.NewServer(newTestHandler(a))
	defer gateway.Close()

	var wg sync.WaitGroup
	bodies := make([]string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(fmt.Sprintf("%s/main/post/%d", gateway.URL, i))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			bodies[i] = string(b)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), batches.Load())
	for i, body := range bodies {
		var out map[string]json.RawMessage
		require.NoError(t, jsoncodec.Unmarshal([]byte(body), &out), body)
		assert.JSONEq(t, fmt.Sprintf(`"post/%d"`, i), string(out["url"]))
	}
}
