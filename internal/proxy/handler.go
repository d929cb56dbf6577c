package proxy

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"batchrest/internal/batcher"
	"batchrest/internal/config"
	"batchrest/internal/jsoncodec"
	"batchrest/internal/transport"
)

// DisableBatchHeader makes the gateway send a call on its own
const DisableBatchHeader = "X-Disable-Batch"

// hop-by-hop and framing headers are never copied from backend responses
var skipResponseHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

// Handler forwards plain REST calls to a backend through its batching engine
type Handler struct {
	router      *Router
	maxBodySize int64
	logger      zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(router *Router, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		router:      router,
		maxBodySize: cfg.MaxBodySize,
		logger:      logger.With().Str("component", "proxy").Logger(),
	}
}

// ServeHTTP handles HTTP requests of the form /{backend}/{path...}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	backend, path, err := h.router.GetBackendFromPath(r.URL.Path)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	// Read request body
	var body []byte
	if h.maxBodySize > 0 {
		body, err = io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if int64(len(body)) > h.maxBodySize {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
	} else {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
	}

	call := batcher.Call{
		URL:          backend.ResolveURL(path),
		Method:       r.Method,
		DisableBatch: disableBatch(r),
	}
	if r.URL.RawQuery != "" {
		call.URL += "?" + r.URL.RawQuery
	}
	if len(body) > 0 {
		call.Data = body
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && call.DisableBatch {
		call.Header = http.Header{"Content-Type": []string{ct}}
	}

	res, err := backend.Request(r.Context(), call)
	if res != nil && res.Response != nil {
		h.writeResponse(w, res.Response)
		return
	}

	h.logger.Warn().
		Err(err).
		Str("backend", backend.Name()).
		Str("method", r.Method).
		Str("path", path).
		Msg("call failed")
	h.writeError(w, errorStatus(err), errorMessage(err))
}

// disableBatch reports whether the request must bypass batching: either the
// client asked for it or the body is multipart
func disableBatch(r *http.Request) bool {
	if v, err := strconv.ParseBool(r.Header.Get(DisableBatchHeader)); err == nil && v {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// errorStatus maps a call error without a response to an HTTP status
func errorStatus(err error) int {
	switch {
	case errors.Is(err, batcher.ErrInvalidCall):
		return http.StatusBadRequest
	case errors.Is(err, batcher.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func errorMessage(err error) string {
	if err == nil {
		return transport.ErrTransport.Error()
	}
	return err.Error()
}

// writeResponse writes a backend response back to the client
func (h *Handler) writeResponse(w http.ResponseWriter, resp *transport.Response) {
	for k, values := range resp.Header {
		if skipResponseHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	if w.Header().Get("Content-Type") == "" && len(resp.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Debug().Err(err).Msg("failed to write response")
	}
}

// writeError writes a JSON error body
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, map[string]string{"error": message}); err != nil {
		h.logger.Debug().Err(err).Msg("failed to write error")
	}
}
