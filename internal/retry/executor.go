package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"batchrest/internal/auth"
	"batchrest/internal/metrics"
	"batchrest/internal/transport"
)

// Config for creating a new Executor
type Config struct {
	Backend     string
	Transport   transport.Transport
	Policy      Policy
	Invalidator auth.SessionInvalidator
	Metrics     *metrics.Collector
	Logger      zerolog.Logger
}

// Executor sends requests with the retry policy applied
type Executor struct {
	backend     string
	transport   transport.Transport
	policy      Policy
	invalidator auth.SessionInvalidator
	metrics     *metrics.Collector
	logger      zerolog.Logger
}

// NewExecutor creates a new Executor
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		backend:     cfg.Backend,
		transport:   cfg.Transport,
		policy:      cfg.Policy,
		invalidator: cfg.Invalidator,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With().Str("component", "retry").Logger(),
	}
}

// Send performs req, retrying per the policy. On a non-success status the
// last response is returned together with a *transport.StatusError.
// Transport errors are returned as-is and never retried.
func (e *Executor) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	var (
		last     *transport.Response
		attempts int
		rule     *Rule
	)
	b := &fixedBackOff{}

	operation := func() error {
		attempts++
		resp, err := e.transport.Send(ctx, req)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = resp
		if resp.IsSuccess() {
			return nil
		}

		statusErr := transport.NewStatusError(resp)
		if resp.StatusCode == http.StatusUnauthorized {
			e.invalidate()
			return backoff.Permanent(statusErr)
		}

		rule = e.policy.Match(resp)
		if rule == nil {
			return backoff.Permanent(statusErr)
		}
		statusErr = statusErr.WithKind(rule.Kind)
		if attempts >= rule.MaxAttempts {
			e.logger.Warn().
				Str("backend", e.backend).
				Str("url", req.URL).
				Str("reason", rule.Name).
				Int("attempts", attempts).
				Msg("retry attempts exhausted")
			return backoff.Permanent(statusErr)
		}
		b.delay = rule.Delay
		return statusErr
	}

	notify := func(err error, wait time.Duration) {
		e.metrics.RecordRetry(e.backend, rule.Name)
		e.logger.Warn().
			Str("backend", e.backend).
			Str("method", req.Method).
			Str("url", req.URL).
			Int("attempt", attempts).
			Int("maxAttempts", rule.MaxAttempts).
			Dur("wait", wait).
			Err(err).
			Msg("request failed, retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return last, fmt.Errorf("%w: %w", transport.ErrAborted, err)
	}
	return last, err
}

func (e *Executor) invalidate() {
	e.metrics.RecordSessionInvalidated(e.backend)
	if e.invalidator != nil {
		e.invalidator.InvalidateSession()
	}
}
