package batcher

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"batchrest/internal/jsoncodec"
	"batchrest/internal/jsonrpc"
	"batchrest/internal/transport"
)

const testHost = "http://api.test"

// fakeBackend answers batch envelopes by echoing each entry and records
// every request it sees
type fakeBackend struct {
	mu        sync.Mutex
	envelopes []*jsonrpc.BatchEnvelope
	direct    []*transport.Request

	entryStatus func(key string, req *jsonrpc.BatchRequest) int
	reply       []byte // fixed batch reply, overrides the echo
	dropKey     string // key left out of the reply
}

func (f *fakeBackend) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if !strings.HasSuffix(req.URL, "/batch") {
		f.mu.Lock()
		f.direct = append(f.direct, req)
		f.mu.Unlock()
		body, _ := jsoncodec.Marshal(map[string]string{"url": req.URL, "method": req.Method})
		return &transport.Response{StatusCode: http.StatusOK, Body: body}, nil
	}

	var env jsonrpc.BatchEnvelope
	if err := jsoncodec.Unmarshal(req.Body, &env); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.envelopes = append(f.envelopes, &env)
	f.mu.Unlock()

	if f.reply != nil {
		return &transport.Response{StatusCode: http.StatusOK, Body: f.reply}, nil
	}

	results := make(map[string]map[string]interface{})
	for key, r := range env.Params.Requests {
		if key == f.dropKey {
			continue
		}
		status := http.StatusOK
		if f.entryStatus != nil {
			status = f.entryStatus(key, r)
		}
		result := map[string]interface{}{
			"status": status,
			"url":    r.URL,
			"method": r.Method,
		}
		if len(r.Data) > 0 {
			result["data"] = r.Data
		}
		for k, v := range r.Extra {
			result[k] = v
		}
		results[key] = result
	}
	body, err := jsoncodec.Marshal(map[string]interface{}{
		"success": true,
		"data":    map[string]interface{}{"results": results},
	})
	if err != nil {
		return nil, err
	}
	return &transport.Response{StatusCode: http.StatusOK, Body: body}, nil
}

func (f *fakeBackend) Envelopes() []*jsonrpc.BatchEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*jsonrpc.BatchEnvelope(nil), f.envelopes...)
}

func (f *fakeBackend) Direct() []*transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*transport.Request(nil), f.direct...)
}

func newTestAggregator(t *testing.T, backend *fakeBackend, mutate func(*Config)) *Aggregator {
	t.Helper()
	cfg := Config{
		Backend: "test",
		Enabled: true,
		MaxSize: 10,
		MaxWait: time.Hour,
		Dispatcher: NewDispatcher(DispatcherConfig{
			Backend:  "test",
			BatchURL: testHost + "/batch",
			Sender:   backend,
			Logger:   zerolog.Nop(),
		}),
		Direct: backend,
		Logger: zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a := NewAggregator(cfg)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func await(t *testing.T, ch <-chan *Result) *Result {
	t.Helper()
	select {
	case res := <-ch:
		require.NotNil(t, res)
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func pending(url, method, data string) *PendingCall {
	call := Call{URL: url, Method: method}
	if data != "" {
		call.Data = []byte(data)
	}
	return NewPendingCall(call)
}
