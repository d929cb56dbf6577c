package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchrest/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Host:           "127.0.0.1",
		RequestTimeout: 1000,
		Backends: []config.BackendConfig{
			{Name: "main", URL: "http://api.test"},
			{Name: "crm", URL: "http://crm.test"},
		},
	}
}

func TestNew_RegistersBackends(t *testing.T) {
	s, err := New(testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop(context.Background())

	assert.Equal(t, []string{"crm", "main"}, s.Router().GetBackendNames())
}

func TestNew_InvalidRetryPattern(t *testing.T) {
	cfg := testConfig()
	cfg.Backends[0].Retry.LockPattern = "("

	_, err := New(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend main")
}

func TestMetricsHandler(t *testing.T) {
	s, err := New(testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer s.Stop(context.Background())

	srv := httptest.NewServer(s.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok","backends":["crm","main"]}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s, err := New(testConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
