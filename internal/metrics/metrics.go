// Package metrics exposes Prometheus collectors for the batching engine.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Batch outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Entry result classes
const (
	ClassSuccess = "success"
	ClassError   = "error"
	ClassMissing = "missing"
)

// Collector tracks batching statistics per backend
type Collector struct {
	mu sync.Mutex

	callsTotal     *prometheus.CounterVec
	directTotal    *prometheus.CounterVec
	batchesTotal   *prometheus.CounterVec
	batchEntries   *prometheus.HistogramVec
	dedupHitsTotal *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	entryResults   *prometheus.CounterVec
	cacheHitsTotal *prometheus.CounterVec
	invalidations  *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "batchrest",
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates a collector. A nil registerer uses the default one.
func New(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Collector{
		registerer:     registerer,
		callsTotal:     newCounterVec("calls_total", "Calls accepted by the engine", []string{"backend"}),
		directTotal:    newCounterVec("direct_calls_total", "Calls sent outside a batch envelope", []string{"backend"}),
		batchesTotal:   newCounterVec("batches_total", "Batch envelopes dispatched", []string{"backend", "outcome"}),
		dedupHitsTotal: newCounterVec("dedup_hits_total", "Calls folded into an identical entry of the same cycle", []string{"backend"}),
		retriesTotal:   newCounterVec("retries_total", "Requests retried by the retry policy", []string{"backend", "reason"}),
		entryResults:   newCounterVec("entry_results_total", "Per-entry results of batch replies", []string{"backend", "class"}),
		cacheHitsTotal: newCounterVec("cache_hits_total", "GET calls served from the response cache", []string{"backend"}),
		invalidations:  newCounterVec("session_invalidations_total", "Sessions invalidated after a 401", []string{"backend"}),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "batchrest",
				Subsystem: "engine",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker position per backend (0 closed, 1 open, 2 half-open)",
			},
			[]string{"backend"},
		),
		batchEntries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "batchrest",
				Subsystem: "engine",
				Name:      "batch_entries",
				Help:      "Unique entries per batch envelope",
				Buckets:   []float64{1, 2, 5, 10, 20, 40},
			},
			[]string{"backend"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (c *Collector) Register() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		c.callsTotal,
		c.directTotal,
		c.batchesTotal,
		c.batchEntries,
		c.dedupHitsTotal,
		c.retriesTotal,
		c.entryResults,
		c.cacheHitsTotal,
		c.invalidations,
		c.breakerState,
	}

	for _, col := range collectors {
		if err := c.registerer.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	c.registered = true
	return nil
}

// RecordCall counts a call accepted by the engine
func (c *Collector) RecordCall(backend string) {
	if c == nil {
		return
	}
	c.callsTotal.WithLabelValues(backend).Inc()
}

// RecordDirect counts a call sent on its own
func (c *Collector) RecordDirect(backend string) {
	if c == nil {
		return
	}
	c.directTotal.WithLabelValues(backend).Inc()
}

// RecordBatch counts a dispatched envelope and its entry count
func (c *Collector) RecordBatch(backend, outcome string, entries int) {
	if c == nil {
		return
	}
	c.batchesTotal.WithLabelValues(backend, outcome).Inc()
	c.batchEntries.WithLabelValues(backend).Observe(float64(entries))
}

// RecordDedupHits counts calls that shared an existing entry
func (c *Collector) RecordDedupHits(backend string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.dedupHitsTotal.WithLabelValues(backend).Add(float64(n))
}

// RecordRetry counts one retry
func (c *Collector) RecordRetry(backend, reason string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(backend, reason).Inc()
}

// RecordEntryResult counts one demultiplexed entry
func (c *Collector) RecordEntryResult(backend, class string) {
	if c == nil {
		return
	}
	c.entryResults.WithLabelValues(backend, class).Inc()
}

// RecordCacheHit counts a GET served from cache
func (c *Collector) RecordCacheHit(backend string) {
	if c == nil {
		return
	}
	c.cacheHitsTotal.WithLabelValues(backend).Inc()
}

// RecordSessionInvalidated counts a 401-triggered invalidation
func (c *Collector) RecordSessionInvalidated(backend string) {
	if c == nil {
		return
	}
	c.invalidations.WithLabelValues(backend).Inc()
}

// SetCircuitState records the breaker position of a backend
func (c *Collector) SetCircuitState(backend string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(backend).Set(float64(state))
}
