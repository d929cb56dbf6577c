package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPConfig for creating a new HTTPTransport
type HTTPConfig struct {
	Name           string
	RequestTimeout time.Duration
	Headers        HeaderProvider
	CircuitBreaker *CircuitBreaker
	Logger         zerolog.Logger
}

// HTTPTransport sends requests to a backend over net/http
type HTTPTransport struct {
	name       string
	httpClient *http.Client
	headers    HeaderProvider
	breaker    *CircuitBreaker
	logger     zerolog.Logger
}

// NewHTTPTransport creates a new HTTPTransport
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}

	return &HTTPTransport{
		name:       cfg.Name,
		httpClient: httpClient,
		headers:    cfg.Headers,
		breaker:    cfg.CircuitBreaker,
		logger:     cfg.Logger.With().Str("backend", cfg.Name).Logger(),
	}
}

// Send performs the request. Any received status is returned as a Response;
// only failures to get a response at all are errors.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create HTTP request: %v", ErrTransport, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.headers != nil {
		for k, vals := range t.headers.Headers() {
			httpReq.Header[k] = append([]string(nil), vals...)
		}
	}
	for k, vals := range req.Header {
		httpReq.Header[k] = append([]string(nil), vals...)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}
		t.breaker.Done(false)
		return nil, fmt.Errorf("%w: HTTP request failed: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.breaker.Done(false)
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrTransport, err)
	}
	t.breaker.Done(true)

	t.logger.Debug().
		Str("method", method).
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend call completed")

	return &Response{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// Close releases idle connections
func (t *HTTPTransport) Close() {
	t.httpClient.CloseIdleConnections()
}

// statusText strips the numeric prefix net/http leaves in resp.Status
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}
