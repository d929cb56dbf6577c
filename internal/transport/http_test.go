package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHeaders http.Header

func (h staticHeaders) Headers() http.Header { return http.Header(h) }

func TestHTTPTransport_Send(t *testing.T) {
	var gotMethod, gotBody, gotKey, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotKey = r.Header.Get("Key-Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{
		Name:           "test",
		RequestTimeout: time.Second,
		Headers:        staticHeaders{"Key-Authorization": {"secret"}},
		Logger:         zerolog.Nop(),
	})
	defer tr.Close()

	resp, err := tr.Send(context.Background(), &Request{
		URL:    srv.URL + "/users",
		Method: "post",
		Body:   []byte(`{"name":"a"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"name":"a"}`, gotBody)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Created", resp.StatusText)
	assert.Equal(t, "yes", resp.Header.Get("X-Backend"))
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.True(t, resp.IsSuccess())
}

func TestHTTPTransport_ErrorStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{Logger: zerolog.Nop()})
	resp, err := tr.Send(context.Background(), &Request{URL: srv.URL, Method: http.MethodGet})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.False(t, resp.IsSuccess())
}

func TestHTTPTransport_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr := NewHTTPTransport(HTTPConfig{Logger: zerolog.Nop()})
	_, err := tr.Send(context.Background(), &Request{URL: url})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestHTTPTransport_CanceledContextIsAborted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewHTTPTransport(HTTPConfig{Logger: zerolog.Nop()})
	_, err := tr.Send(ctx, &Request{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
}

func TestHTTPTransport_CircuitOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, Name: "api", FailureThreshold: 1, RecoveryTimeout: time.Hour, Logger: zerolog.Nop()})
	cb.Done(false)

	tr := NewHTTPTransport(HTTPConfig{CircuitBreaker: cb, Logger: zerolog.Nop()})
	_, err := tr.Send(context.Background(), &Request{URL: "http://127.0.0.1:1"})
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}
