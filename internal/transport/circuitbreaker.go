package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the position of a circuit breaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled             bool
	Name                string // backend name, used in errors and logs
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int

	// OnStateChange is called outside the lock after every transition
	OnStateChange func(name string, state BreakerState)
	Logger        zerolog.Logger
}

// CircuitBreaker fails backend calls fast after consecutive transport
// failures. Any HTTP status counts as a success; only calls that got no
// response at all count against the backend.
type CircuitBreaker struct {
	cfg    CircuitBreakerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	probesOK int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 2
	}
	return &CircuitBreaker{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "circuit_breaker").Str("backend", cfg.Name).Logger(),
		now:    time.Now,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open and its recovery
// timeout has not passed. After the timeout the breaker turns half-open and
// lets up to HalfOpenMaxRequests probe calls through.
func (cb *CircuitBreaker) Allow() error {
	if cb == nil || !cb.cfg.Enabled {
		return nil
	}

	cb.mu.Lock()
	prev := cb.state
	var err error
	switch cb.state {
	case BreakerOpen:
		wait := cb.cfg.RecoveryTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			err = fmt.Errorf("%w: %s, retry in %s", ErrCircuitOpen, cb.cfg.Name, wait.Round(time.Millisecond))
			break
		}
		cb.state = BreakerHalfOpen
		cb.probesOK = 0
	case BreakerHalfOpen:
		if cb.probesOK >= cb.cfg.HalfOpenMaxRequests {
			err = fmt.Errorf("%w: %s, probing", ErrCircuitOpen, cb.cfg.Name)
		}
	}
	next := cb.state
	cb.mu.Unlock()

	cb.notify(prev, next)
	return err
}

// Done records the outcome of a call let through by Allow
func (cb *CircuitBreaker) Done(responded bool) {
	if cb == nil || !cb.cfg.Enabled {
		return
	}

	cb.mu.Lock()
	prev := cb.state
	if responded {
		cb.onResponse()
	} else {
		cb.onFailure()
	}
	next := cb.state
	cb.mu.Unlock()

	cb.notify(prev, next)
}

// State returns the current position of the breaker
func (cb *CircuitBreaker) State() BreakerState {
	if cb == nil {
		return BreakerClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) onResponse() {
	switch cb.state {
	case BreakerHalfOpen:
		cb.probesOK++
		if cb.probesOK >= cb.cfg.HalfOpenMaxRequests {
			cb.state = BreakerClosed
			cb.failures = 0
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	case BreakerHalfOpen:
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.probesOK = 0
}

func (cb *CircuitBreaker) notify(prev, next BreakerState) {
	if prev == next {
		return
	}

	ev := cb.logger.Info()
	if next == BreakerOpen {
		ev = cb.logger.Warn().Dur("recovery_timeout", cb.cfg.RecoveryTimeout)
	}
	ev.Str("from", prev.String()).Str("to", next.String()).Msg("circuit breaker state changed")

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, next)
	}
}
