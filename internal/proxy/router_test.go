package proxy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchrest/internal/batcher"
	"batchrest/internal/transport"
)

// fakeBackend records calls and answers with a fixed result
type fakeBackend struct {
	name     string
	mu       sync.Mutex
	calls    []batcher.Call
	res      *batcher.Result
	err      error
	closeErr error
	closed   bool
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) ResolveURL(path string) string {
	return "http://api.test/" + path
}

func (f *fakeBackend) Request(ctx context.Context, call batcher.Call) (*batcher.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.res == nil && f.err == nil {
		return &batcher.Result{Response: &transport.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       []byte(`{"ok":true}`),
		}}, nil
	}
	return f.res, f.err
}

func (f *fakeBackend) Close(ctx context.Context) error {
	f.closed = true
	return f.closeErr
}

func (f *fakeBackend) lastCall(t *testing.T) batcher.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path, name, rest string
	}{
		{"/main", "main", ""},
		{"/main/", "main", ""},
		{"/main/post/1", "main", "post/1"},
		{"", "", ""},
	}
	for _, tt := range tests {
		name, rest := splitPath(tt.path)
		assert.Equal(t, tt.name, name, tt.path)
		assert.Equal(t, tt.rest, rest, tt.path)
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	r.AddBackend(&fakeBackend{name: "b"})
	r.AddBackend(&fakeBackend{name: "a"})

	assert.Equal(t, []string{"a", "b"}, r.GetBackendNames())
	assert.True(t, r.HasBackend("a"))
	assert.False(t, r.HasBackend("c"))

	b, rest, err := r.GetBackendFromPath("/a/post/1")
	require.NoError(t, err)
	assert.Equal(t, "a", b.Name())
	assert.Equal(t, "post/1", rest)

	_, _, err = r.GetBackendFromPath("/c/post")
	assert.Error(t, err)
	_, _, err = r.GetBackendFromPath("/")
	assert.Error(t, err)
}

func TestRouter_CloseAll(t *testing.T) {
	ok := &fakeBackend{name: "ok"}
	bad := &fakeBackend{name: "bad", closeErr: errors.New("boom")}
	r := NewRouter()
	r.AddBackend(ok)
	r.AddBackend(bad)

	err := r.CloseAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend bad")
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
}
