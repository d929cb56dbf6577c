package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"batchrest/internal/metrics"
	"batchrest/internal/transport"
)

// Config for creating a new Aggregator
type Config struct {
	Backend      string
	Enabled      bool
	MaxSize      int
	MaxWait      time.Duration
	SingleDirect bool // a cycle holding exactly one call skips the envelope
	Params       ParamsFunc
	Dispatcher   *Dispatcher
	Direct       Sender // sends calls that are not batched
	Metrics      *metrics.Collector
	Logger       zerolog.Logger
}

// Aggregator implements BatchingTransport on top of a queue, a debounce
// scheduler and a dispatcher
type Aggregator struct {
	backend      string
	enabled      bool
	singleDirect bool
	params       ParamsFunc
	dispatcher   *Dispatcher
	direct       Sender
	metrics      *metrics.Collector
	logger       zerolog.Logger

	queue     *Queue
	scheduler *Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	mu     sync.RWMutex
}

var _ BatchingTransport = (*Aggregator)(nil)

// NewAggregator creates a new batch aggregator
func NewAggregator(cfg Config) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		backend:      cfg.Backend,
		enabled:      cfg.Enabled,
		singleDirect: cfg.SingleDirect,
		params:       cfg.Params,
		dispatcher:   cfg.Dispatcher,
		direct:       cfg.Direct,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With().Str("component", "batcher").Str("backend", cfg.Backend).Logger(),
		queue:        NewQueue(),
		ctx:          ctx,
		cancel:       cancel,
	}
	a.scheduler = NewScheduler(a.queue, cfg.MaxSize, cfg.MaxWait, a.onFlush)
	return a
}

// Add queues a call and returns a channel that receives its result.
// Calls flagged DisableBatch, or every call when batching is off, are sent
// at once on their own.
func (a *Aggregator) Add(ctx context.Context, call Call) <-chan *Result {
	p := NewPendingCall(call)
	a.metrics.RecordCall(a.backend)

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		p.fail(ErrClosed)
		return p.ResultChan
	}

	if call.DisableBatch || !a.enabled {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.send(ctx, p)
		}()
		return p.ResultChan
	}

	if !a.scheduler.Enqueue(p) {
		p.fail(ErrClosed)
	}
	return p.ResultChan
}

// Do adds a call and waits for its result or for ctx. The returned error
// is the result's error, or ctx's when the caller stops waiting first.
func (a *Aggregator) Do(ctx context.Context, call Call) (*Result, error) {
	select {
	case res := <-a.Add(ctx, call):
		return res, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flush dispatches whatever is queued without waiting for the timer
func (a *Aggregator) Flush() {
	a.scheduler.Flush()
}

// Pending returns the number of queued calls
func (a *Aggregator) Pending() int {
	return a.queue.Size()
}

// Close stops the timer, flushes queued calls and waits for in-flight
// cycles. If ctx ends first, in-flight requests are aborted.
func (a *Aggregator) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.scheduler.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.cancel()
		a.logger.Info().Msg("batch aggregator closed")
		return nil
	case <-ctx.Done():
		a.cancel()
		a.logger.Warn().Err(ctx.Err()).Msg("batch aggregator closed with calls in flight")
		return ctx.Err()
	}
}

// onFlush runs under the scheduler lock, so it only hands the cycle off
func (a *Aggregator) onFlush(calls []*PendingCall) {
	a.wg.Add(1)
	go a.dispatch(calls)
}

func (a *Aggregator) dispatch(calls []*PendingCall) {
	defer a.wg.Done()

	if a.singleDirect && len(calls) == 1 {
		a.send(a.ctx, calls[0])
		return
	}

	env, rejected := BuildEnvelope(calls, a.params)
	for _, r := range rejected {
		a.logger.Warn().Err(r.Err).Str("url", r.Call.Call.URL).Msg("call rejected from batch")
		r.Call.fail(r.Err)
	}
	if len(env.Entries) == 0 {
		return
	}

	a.metrics.RecordDedupHits(a.backend, env.Size()-len(env.Entries))
	a.dispatcher.SendBatch(a.ctx, env)
}

// send performs a call as an ordinary request
func (a *Aggregator) send(ctx context.Context, p *PendingCall) {
	a.metrics.RecordDirect(a.backend)

	req, err := directRequest(p.Call)
	if err != nil {
		p.fail(err)
		return
	}

	resp, err := a.direct.Send(ctx, req)
	switch {
	case err != nil && resp != nil:
		p.deliver(&Result{Response: resp, Err: err})
	case err != nil:
		p.fail(err)
	case resp == nil:
		p.fail(transport.ErrTransport)
	default:
		p.deliver(newResult(resp))
	}
}
