package batcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"batchrest/internal/auth"
	"batchrest/internal/ids"
	"batchrest/internal/jsonrpc"
	"batchrest/internal/metrics"
	"batchrest/internal/transport"
)

// CycleHeader carries the cycle id on synthesized responses
const CycleHeader = "X-Batch-Cycle"

// Sender posts a request; *retry.Executor satisfies it. A non-success
// status may come back either as a response or as a response plus error.
type Sender interface {
	Send(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// DispatcherConfig for creating a new Dispatcher
type DispatcherConfig struct {
	Backend     string
	BatchURL    string
	Sender      Sender
	Invalidator auth.SessionInvalidator
	Metrics     *metrics.Collector
	Logger      zerolog.Logger
}

// Dispatcher sends one envelope per cycle and demultiplexes the reply
type Dispatcher struct {
	backend     string
	batchURL    string
	sender      Sender
	invalidator auth.SessionInvalidator
	metrics     *metrics.Collector
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		backend:     cfg.Backend,
		batchURL:    cfg.BatchURL,
		sender:      cfg.Sender,
		invalidator: cfg.Invalidator,
		metrics:     cfg.Metrics,
		tracer:      otel.Tracer("batchrest/batcher"),
		logger:      cfg.Logger.With().Str("component", "dispatcher").Logger(),
	}
}

// SendBatch posts env once and resolves every call it carries exactly once
func (d *Dispatcher) SendBatch(ctx context.Context, env *Envelope) {
	cycleID := ids.NewCycleID()
	ctx, span := d.tracer.Start(ctx, "batch-rest")
	defer span.End()

	span.SetAttributes(
		attribute.String("batch.cycle", cycleID),
		attribute.String("batch.backend", d.backend),
		attribute.Int("batch.entries", len(env.Entries)),
		attribute.Int("batch.calls", env.Size()),
	)

	logger := d.logger.With().Str("cycle", cycleID).Logger()
	logger.Debug().
		Int("entries", len(env.Entries)).
		Int("calls", env.Size()).
		Msg("dispatching batch")

	failAll := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.RecordBatch(d.backend, metrics.OutcomeFailed, len(env.Entries))
		logger.Warn().Err(err).Int("calls", env.Size()).Msg("batch failed")
		for _, p := range env.Calls() {
			p.fail(err)
		}
	}

	body, err := env.Request().Bytes()
	if err != nil {
		failAll(fmt.Errorf("%w: failed to marshal envelope: %v", ErrBatchFailed, err))
		return
	}

	resp, err := d.sender.Send(ctx, &transport.Request{
		URL:    d.batchURL,
		Method: http.MethodPost,
		Body:   body,
	})
	if err != nil {
		failAll(fmt.Errorf("%w: %w", ErrBatchFailed, err))
		return
	}
	if resp == nil {
		failAll(fmt.Errorf("%w: empty response", ErrBatchFailed))
		return
	}
	if !resp.IsSuccess() {
		failAll(fmt.Errorf("%w: %w", ErrBatchFailed, transport.NewStatusError(resp)))
		return
	}

	reply, err := jsonrpc.ParseBatchReply(resp.Body)
	if err != nil {
		failAll(fmt.Errorf("%w: %w", ErrBatchFailed, err))
		return
	}
	if !reply.Success {
		failAll(fmt.Errorf("%w: backend reported failure", ErrBatchFailed))
		return
	}

	results := reply.Results()
	unauthorized := false
	for _, entry := range env.Entries {
		calls := env.Fanout[entry.Checksum]
		result, ok := results[entry.Key]
		if !ok || result == nil {
			d.metrics.RecordEntryResult(d.backend, metrics.ClassMissing)
			logger.Warn().Str("key", entry.Key).Msg("batch reply has no result for entry")
			for _, p := range calls {
				p.fail(fmt.Errorf("%w: %s", ErrMissingResult, entry.Key))
			}
			continue
		}

		entryResp := synthesize(result, cycleID)
		if entryResp.IsSuccess() {
			d.metrics.RecordEntryResult(d.backend, metrics.ClassSuccess)
		} else {
			d.metrics.RecordEntryResult(d.backend, metrics.ClassError)
			if entryResp.StatusCode == http.StatusUnauthorized {
				unauthorized = true
			}
		}
		for _, p := range calls {
			p.deliver(newResult(entryResp.Clone()))
		}
	}

	if unauthorized {
		d.invalidate(logger)
	}

	d.metrics.RecordBatch(d.backend, metrics.OutcomeSuccess, len(env.Entries))
	logger.Debug().Int("entries", len(env.Entries)).Msg("batch completed")
}

func (d *Dispatcher) invalidate(logger zerolog.Logger) {
	logger.Warn().Msg("batch entry unauthorized, invalidating session")
	d.metrics.RecordSessionInvalidated(d.backend)
	if d.invalidator != nil {
		d.invalidator.InvalidateSession()
	}
}

// synthesize turns one keyed result into a per-call HTTP response. A result
// without a status is treated as 200.
func synthesize(result *jsonrpc.BatchResult, cycleID string) *transport.Response {
	status := result.Status
	if status == 0 {
		status = http.StatusOK
	}
	text := result.StatusText
	if text == "" {
		text = http.StatusText(status)
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(CycleHeader, cycleID)

	return &transport.Response{
		StatusCode: status,
		StatusText: text,
		Header:     header,
		Body:       result.Payload,
	}
}

// IsBatchFailure reports whether err came from an envelope-level failure
func IsBatchFailure(err error) bool {
	return errors.Is(err, ErrBatchFailed)
}
