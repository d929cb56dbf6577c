package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchrest/internal/jsoncodec"
	"batchrest/internal/jsonrpc"
)

func newBatchBackend(t *testing.T, batches *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env jsonrpc.BatchEnvelope
		if r.URL.Path != "/batch" || jsoncodec.Decode(r.Body, &env) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		batches.Add(1)
		results := make(map[string]interface{})
		for key, req := range env.Params.Requests {
			status := 200
			if strings.HasPrefix(req.URL, "missing") {
				status = 404
			}
			results[key] = map[string]interface{}{"status": status, "url": req.URL}
		}
		_ = jsoncodec.Encode(w, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"results": results},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func executeCall(t *testing.T, args ...string) (string, error) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"call"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCall_CoalescesURLs(t *testing.T) {
	var batches atomic.Int32
	srv := newBatchBackend(t, &batches)

	out, err := executeCall(t,
		"--backend-url", srv.URL,
		"--url", "post/1", "--url", "post/2", "--url", "post/1",
		"--max-wait", "200",
		"--format", "json",
	)
	require.NoError(t, err)
	assert.Equal(t, int32(1), batches.Load())

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for i, want := range []string{"post/1", "post/2", "post/1"} {
		var o callOutput
		require.NoError(t, jsoncodec.Unmarshal([]byte(lines[i]), &o))
		assert.Equal(t, want, o.URL)
		assert.Equal(t, http.StatusOK, o.Status)
		assert.JSONEq(t, `{"url":"`+want+`"}`, string(o.Body))
	}
}

func TestCall_ReportsFailures(t *testing.T) {
	var batches atomic.Int32
	srv := newBatchBackend(t, &batches)

	out, err := executeCall(t,
		"--backend-url", srv.URL,
		"--url", "post/1", "--url", "missing/2",
		"--max-wait", "200",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 calls failed")
	assert.Contains(t, out, "GET post/1 200 OK")
	assert.Contains(t, out, "GET missing/2 404 Not Found")
}

func TestCall_FromConfigFile(t *testing.T) {
	var batches atomic.Int32
	srv := newBatchBackend(t, &batches)

	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "backends:\n  - name: main\n    url: " + srv.URL + "\n    batching:\n      maxWait: 200\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	out, err := executeCall(t, "--config", path, "--backend", "main", "--url", "post/9")
	require.NoError(t, err)
	assert.Contains(t, out, "GET post/9 200 OK")

	_, err = executeCall(t, "--config", path, "--backend", "other", "--url", "post/9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCall_InvalidInput(t *testing.T) {
	_, err := executeCall(t, "--url", "post/1")
	assert.ErrorContains(t, err, "--backend-url")

	_, err = executeCall(t, "--backend-url", "http://api.test", "--url", "x", "--data", "{")
	assert.ErrorContains(t, err, "invalid --data")

	_, err = executeCall(t, "--backend-url", "http://api.test", "--url", "x", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")

	_, err = executeCall(t, "--backend-url", "http://api.test")
	assert.Error(t, err)
}
